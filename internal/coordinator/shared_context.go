package coordinator

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// filePathRe matches path-looking tokens with a file extension.
var filePathRe = regexp.MustCompile(`(?:[A-Za-z0-9_.\-~/]+/)?[A-Za-z0-9_.\-]+\.[A-Za-z0-9]{1,8}\b`)

// findingKeywords trigger extraction of a sentence into the findings map.
var findingKeywords = []string{"found", "discovered", "issue"}

// SharedContext accumulates partial discoveries across concurrently
// running agents within one coordinator run. It only ever grows; Reset is
// the single way to empty it. The text mining that feeds it is strictly
// advisory and never affects scheduling or budgets.
type SharedContext struct {
	mu        sync.Mutex
	findings  map[string]string
	files     map[string]string
	decisions map[string]string
	errors    []string
}

// NewSharedContext creates an empty SharedContext.
func NewSharedContext() *SharedContext {
	return &SharedContext{
		findings:  make(map[string]string),
		files:     make(map[string]string),
		decisions: make(map[string]string),
	}
}

// AddFinding records one discovery attributed to a task.
func (s *SharedContext) AddFinding(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findings[key] = value
}

// AddFile records a file mention attributed to a task.
func (s *SharedContext) AddFile(path, source string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = source
}

// AddDecision records an explicit decision.
func (s *SharedContext) AddDecision(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions[key] = value
}

// AddError appends a failure description.
func (s *SharedContext) AddError(desc string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, desc)
}

// Errors returns a copy of the accumulated failure descriptions.
func (s *SharedContext) Errors() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.errors...)
}

// Empty reports whether nothing has been recorded besides errors.
func (s *SharedContext) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.findings) == 0 && len(s.files) == 0 && len(s.decisions) == 0
}

// Reset empties the context. Growth is otherwise monotonic.
func (s *SharedContext) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findings = make(map[string]string)
	s.files = make(map[string]string)
	s.decisions = make(map[string]string)
	s.errors = nil
}

// MineOutput scans one task's output text for file-path mentions and
// keyword-flagged sentences, folding hits into the context. Best effort:
// a miss extracts nothing and harms nothing.
func (s *SharedContext) MineOutput(taskID, output string) {
	for _, path := range filePathRe.FindAllString(output, -1) {
		s.AddFile(path, taskID)
	}

	for i, sentence := range strings.Split(output, ".") {
		lower := strings.ToLower(sentence)
		for _, keyword := range findingKeywords {
			if strings.Contains(lower, keyword) {
				key := fmt.Sprintf("%s-%d", taskID, i)
				s.AddFinding(key, strings.TrimSpace(sentence))
				break
			}
		}
	}
}

// Render produces the shared-knowledge block appended to later tasks'
// prompts, or an empty string when nothing has been recorded.
func (s *SharedContext) Render() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.findings) == 0 && len(s.files) == 0 && len(s.errors) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n\nShared context from concurrently running agents:\n")

	if len(s.findings) > 0 {
		b.WriteString("\nDiscoveries:\n")
		for _, key := range sortedKeys(s.findings) {
			fmt.Fprintf(&b, "- %s\n", s.findings[key])
		}
	}
	if len(s.files) > 0 {
		b.WriteString("\nFiles mentioned:\n")
		for _, path := range sortedKeys(s.files) {
			fmt.Fprintf(&b, "- %s (from %s)\n", path, s.files[path])
		}
	}
	if len(s.errors) > 0 {
		b.WriteString("\nIssues encountered:\n")
		for _, desc := range s.errors {
			fmt.Fprintf(&b, "- %s\n", desc)
		}
	}

	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
