package tracker

import (
	"strings"
)

// TeamContext holds the name to id lookup tables for one team. It is built
// once per team per run and is read-only afterwards, so entries of the same
// team share it without locking.
type TeamContext struct {
	Team Team

	states   []State
	labels   []Label
	members  []Member
	projects []Project

	stateByName   map[string]State
	labelByName   map[string]Label
	memberByEmail map[string]Member
	projectByName map[string]Project

	doneStateName string
}

// NewTeamContext indexes data. doneStateName optionally names the state
// that counts as done for this team; when empty or not found the first
// state of type "completed" is used.
func NewTeamContext(data *TeamData, doneStateName string) *TeamContext {
	c := &TeamContext{
		Team:          data.Team,
		states:        data.States,
		labels:        data.Labels,
		members:       data.Members,
		projects:      data.Projects,
		stateByName:   make(map[string]State, len(data.States)),
		labelByName:   make(map[string]Label, len(data.Labels)),
		memberByEmail: make(map[string]Member, len(data.Members)),
		projectByName: make(map[string]Project, len(data.Projects)),
		doneStateName: doneStateName,
	}
	// First one wins on case-insensitive collisions.
	for _, s := range data.States {
		if _, ok := c.stateByName[fold(s.Name)]; !ok {
			c.stateByName[fold(s.Name)] = s
		}
	}
	for _, l := range data.Labels {
		if _, ok := c.labelByName[fold(l.Name)]; !ok {
			c.labelByName[fold(l.Name)] = l
		}
	}
	for _, m := range data.Members {
		if m.Email == "" {
			continue
		}
		if _, ok := c.memberByEmail[fold(m.Email)]; !ok {
			c.memberByEmail[fold(m.Email)] = m
		}
	}
	for _, p := range data.Projects {
		if _, ok := c.projectByName[fold(p.Name)]; !ok {
			c.projectByName[fold(p.Name)] = p
		}
	}
	return c
}

func fold(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func (c *TeamContext) unknown(kind string, available []string, names ...string) *ResolutionError {
	return &ResolutionError{Kind: kind, Names: names, Team: c.Team.Key, Available: available}
}

// LookupState resolves a workflow state name, ignoring case.
func (c *TeamContext) LookupState(name string) (State, error) {
	if s, ok := c.stateByName[fold(name)]; ok {
		return s, nil
	}
	return State{}, c.unknown(KindState, c.StateNames(), name)
}

// LookupLabel resolves a label name, ignoring case.
func (c *TeamContext) LookupLabel(name string) (Label, error) {
	if l, ok := c.labelByName[fold(name)]; ok {
		return l, nil
	}
	return Label{}, c.unknown(KindLabel, c.LabelNames(), name)
}

// LookupLabels resolves every name. All missing names are reported in a
// single error.
func (c *TeamContext) LookupLabels(names []string) ([]Label, error) {
	labels := make([]Label, 0, len(names))
	var missing []string
	for _, name := range names {
		l, ok := c.labelByName[fold(name)]
		if !ok {
			missing = append(missing, name)
			continue
		}
		labels = append(labels, l)
	}
	if len(missing) > 0 {
		return nil, c.unknown(KindLabel, c.LabelNames(), missing...)
	}
	return labels, nil
}

// LookupMember resolves a member by email, ignoring case.
func (c *TeamContext) LookupMember(email string) (Member, error) {
	if m, ok := c.memberByEmail[fold(email)]; ok {
		return m, nil
	}
	return Member{}, c.unknown(KindMember, c.MemberEmails(), email)
}

// LookupProject resolves a project name, ignoring case.
func (c *TeamContext) LookupProject(name string) (Project, error) {
	if p, ok := c.projectByName[fold(name)]; ok {
		return p, nil
	}
	return Project{}, c.unknown(KindProject, c.ProjectNames(), name)
}

// DoneState returns the team's terminal state.
func (c *TeamContext) DoneState() (State, error) {
	if c.doneStateName != "" {
		if s, ok := c.stateByName[fold(c.doneStateName)]; ok {
			return s, nil
		}
	}
	for _, s := range c.states {
		if s.Type == StateTypeCompleted {
			return s, nil
		}
	}
	return State{}, c.unknown(KindDoneState, c.StateNames())
}

// StateNames lists state names in the order the tracker reported them.
func (c *TeamContext) StateNames() []string {
	names := make([]string, len(c.states))
	for i, s := range c.states {
		names[i] = s.Name
	}
	return names
}

func (c *TeamContext) LabelNames() []string {
	names := make([]string, len(c.labels))
	for i, l := range c.labels {
		names[i] = l.Name
	}
	return names
}

func (c *TeamContext) MemberEmails() []string {
	emails := make([]string, 0, len(c.members))
	for _, m := range c.members {
		if m.Email != "" {
			emails = append(emails, m.Email)
		}
	}
	return emails
}

func (c *TeamContext) ProjectNames() []string {
	names := make([]string, len(c.projects))
	for i, p := range c.projects {
		names[i] = p.Name
	}
	return names
}
