package salesforce

import (
	"regexp"
	"strconv"
)

// Metadata is what can be recovered from a work item subject line such as
// "W-123 Step: SSH_TO_ALL_HOSTS, Status: FAILED, Case: 4567, Host: ops-app-1-ia2 PMD/IR".
type Metadata struct {
	WorkID     string
	CaseNumber int
	StepName   string
	Datacenter string
}

var (
	workIDRe = regexp.MustCompile(`(W-\d+)`)
	caseRe   = regexp.MustCompile(`Case[:\s]*(\d+)`)
	stepRe   = regexp.MustCompile(`Step[:\s]+([^,\s]+)`)
	hostRe   = regexp.MustCompile(`Host[:\s]+([^\s-]+-[^\s-]+-[^\s-]+-([^\s-]+))`)
)

// ParseMetadata extracts whatever fields are present; missing ones stay zero.
func ParseMetadata(subject string) Metadata {
	var m Metadata
	if g := workIDRe.FindStringSubmatch(subject); g != nil {
		m.WorkID = g[1]
	}
	if g := caseRe.FindStringSubmatch(subject); g != nil {
		if n, err := strconv.Atoi(g[1]); err == nil {
			m.CaseNumber = n
		}
	}
	if g := stepRe.FindStringSubmatch(subject); g != nil {
		m.StepName = g[1]
	}
	if g := hostRe.FindStringSubmatch(subject); g != nil {
		m.Datacenter = g[2]
	}
	return m
}
