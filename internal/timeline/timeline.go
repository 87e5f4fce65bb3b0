package timeline

import "time"

// Milestone is one stage of the run's pipeline as seen in its log
type Milestone struct {
	Stage       Stage      `json:"stage"`
	DisplayName string     `json:"display_name"`
	IsReached   bool       `json:"is_reached"`
	ReachedAt   *time.Time `json:"reached_at,omitempty"`
	TriggerLine *string    `json:"trigger_line,omitempty"`
	IsActive    bool       `json:"is_active"`
}

// EpochProgress is the last epoch counter seen in the log. Total is 0 when
// the log did not say how many epochs there are.
type EpochProgress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// Signal records the line that produced a detection and when it was seen
type Signal struct {
	Line string    `json:"line"`
	At   time.Time `json:"at"`
}

// State is an immutable timeline snapshot. Every operation returns a new
// State and leaves its input untouched.
type State struct {
	Milestones  []Milestone    `json:"milestones"`
	ActiveIndex int            `json:"active_index"`
	Epoch       *EpochProgress `json:"epoch,omitempty"`
	IsComplete  bool           `json:"is_complete"`

	// Failure holds the first failure indicator seen in the log. It does not
	// affect the milestones; the run's status decides whether it failed.
	Failure *Signal `json:"failure,omitempty"`
}

// Create returns a timeline with all six milestones unreached
func Create() State {
	ms := make([]Milestone, len(milestoneStages))
	for i, stage := range milestoneStages {
		ms[i] = Milestone{Stage: stage, DisplayName: stage.DisplayName()}
	}
	return State{Milestones: ms, ActiveIndex: -1}
}

// ProcessLines applies newly read log lines using the default catalog
func ProcessLines(s State, lines []string) State {
	return defaultCatalog.ProcessLinesAt(s, lines, time.Now())
}

// ProcessLinesAt is ProcessLines with an explicit timestamp for reached milestones
func ProcessLinesAt(s State, lines []string, now time.Time) State {
	return defaultCatalog.ProcessLinesAt(s, lines, now)
}

// SetCompleted applies the run's terminal transition
func SetCompleted(s State, success bool) State {
	return SetCompletedAt(s, success, time.Now())
}

// ProcessLines applies newly read log lines
func (c *Catalog) ProcessLines(s State, lines []string) State {
	return c.ProcessLinesAt(s, lines, time.Now())
}

// ProcessLinesAt marks the stages the lines signal and updates epoch
// progress. Reached milestones never become unreached, and the first line
// that reached a milestone is kept. Lines that arrive after the terminal
// transition are ignored.
func (c *Catalog) ProcessLinesAt(s State, lines []string, now time.Time) State {
	next := s.clone()
	if next.IsComplete {
		return next
	}

	for _, line := range lines {
		if stage, ok := c.Detect(line); ok {
			if stage == StageFailed {
				if next.Failure == nil {
					next.Failure = &Signal{Line: line, At: now}
				}
			} else {
				next.reach(stage, &line, now)
			}
		}

		if ep, ok := ParseEpoch(line); ok {
			next.Epoch = &ep
		}
	}

	next.updateActive()
	return next
}

// SetCompletedAt finishes the timeline. Success marks the Completed
// milestone; failure leaves it unreached. Either way no milestone stays
// active and epoch progress is kept. Calling it on a finished timeline
// returns it unchanged.
func SetCompletedAt(s State, success bool, now time.Time) State {
	next := s.clone()
	if next.IsComplete {
		return next
	}

	if success {
		next.reach(StageCompleted, nil, now)
	}
	next.IsComplete = true
	next.updateActive()
	return next
}

// Milestone returns the milestone for stage
func (s State) Milestone(stage Stage) (Milestone, bool) {
	for _, m := range s.Milestones {
		if m.Stage == stage {
			return m, true
		}
	}
	return Milestone{}, false
}

// Active returns the active milestone, if any
func (s State) Active() (Milestone, bool) {
	if s.ActiveIndex < 0 || s.ActiveIndex >= len(s.Milestones) {
		return Milestone{}, false
	}
	return s.Milestones[s.ActiveIndex], true
}

// ReachedCount returns how many milestones have been reached
func (s State) ReachedCount() int {
	n := 0
	for _, m := range s.Milestones {
		if m.IsReached {
			n++
		}
	}
	return n
}

func (s State) clone() State {
	if len(s.Milestones) == 0 {
		fresh := Create()
		fresh.Epoch = s.Epoch
		fresh.IsComplete = s.IsComplete
		fresh.Failure = s.Failure
		return fresh
	}

	next := s
	next.Milestones = make([]Milestone, len(s.Milestones))
	copy(next.Milestones, s.Milestones)
	return next
}

func (s *State) reach(stage Stage, line *string, now time.Time) {
	for i := range s.Milestones {
		m := &s.Milestones[i]
		if m.Stage != stage || m.IsReached {
			continue
		}
		at := now
		m.IsReached = true
		m.ReachedAt = &at
		if line != nil {
			l := *line
			m.TriggerLine = &l
		}
	}
}

// updateActive points ActiveIndex at the highest reached milestone, unless
// that milestone is terminal or the run has finished.
func (s *State) updateActive() {
	s.ActiveIndex = -1
	highest := -1
	for i, m := range s.Milestones {
		s.Milestones[i].IsActive = false
		if m.IsReached {
			highest = i
		}
	}

	if s.IsComplete || highest < 0 || s.Milestones[highest].Stage.IsTerminal() {
		return
	}
	s.ActiveIndex = highest
	s.Milestones[highest].IsActive = true
}
