package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Branch classifies a project by research area.
type Branch string

const (
	BranchML       Branch = "ML"
	BranchDL       Branch = "DL"
	BranchNLP      Branch = "NLP"
	BranchLLM      Branch = "LLM"
	BranchCV       Branch = "CV"
	BranchSpeech   Branch = "SPEECH"
	BranchRobotics Branch = "ROBOTICS"
	BranchExpert   Branch = "EXPERT"
	BranchEvo      Branch = "EVO"
	BranchEthics   Branch = "ETHICS"
)

var branches = []Branch{
	BranchML, BranchDL, BranchNLP, BranchLLM, BranchCV,
	BranchSpeech, BranchRobotics, BranchExpert, BranchEvo, BranchEthics,
}

func ParseBranch(raw string) (Branch, bool) {
	candidate := Branch(strings.ToUpper(strings.TrimSpace(raw)))
	for _, b := range branches {
		if b == candidate {
			return b, true
		}
	}
	return "", false
}

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,119}$`)

// Project groups experiments.
type Project struct {
	ID          string
	Name        string
	Slug        string
	Branch      Branch
	Description string
	CreatedAt   time.Time
}

func (p Project) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("project id is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("project name is required")
	}
	if !slugPattern.MatchString(p.Slug) {
		return fmt.Errorf("invalid project slug %q", p.Slug)
	}
	if _, ok := ParseBranch(string(p.Branch)); !ok {
		return fmt.Errorf("invalid project branch %q", p.Branch)
	}
	return nil
}

// Experiment groups runs inside a project.
type Experiment struct {
	ID        string
	ProjectID string
	Name      string
	Note      string
	CreatedAt time.Time
}

func (e Experiment) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("experiment id is required")
	}
	if strings.TrimSpace(e.ProjectID) == "" {
		return errors.New("project id is required")
	}
	if strings.TrimSpace(e.Name) == "" {
		return errors.New("experiment name is required")
	}
	return nil
}
