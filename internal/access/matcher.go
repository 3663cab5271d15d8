package access

import "time"

// Match evaluates a single rule against a request. A rule matches iff its
// mode is unset or equal to the request mode, the request date falls in
// [StartDate, EndDate), and the UID list is empty or contains the subject.
// A rule with StartDate == EndDate has an empty window and never matches.
func Match(rule Rule, req Request) (Result, bool) {
	if rule.Mode != "" && rule.Mode != req.Mode {
		return Result{}, false
	}
	if !inWindow(rule, req.Date) {
		return Result{}, false
	}
	if !uidAllowed(rule, req.UID) {
		return Result{}, false
	}
	return Result{
		Rule:         rule,
		Credit:       rule.Credit,
		TimeLimitMin: rule.TimeLimitMin,
		Password:     rule.Password,
		ExamUUID:     rule.ExamUUID,
	}, true
}

// FirstMatch returns the first rule in authoring order that matches the
// request, or nil. Positional order determines precedence: later rules are
// consulted only when earlier ones do not match.
func FirstMatch(rules []Rule, req Request) *Result {
	for _, rule := range rules {
		if result, ok := Match(rule, req); ok {
			return &result
		}
	}
	return nil
}

// MatchingOrFuture returns the rules shown to students: every rule that
// matches the request now, plus rules whose window has not yet opened and
// would otherwise apply to the subject and mode.
func MatchingOrFuture(rules []Rule, req Request) []Rule {
	var visible []Rule
	for _, rule := range rules {
		if _, ok := Match(rule, req); ok {
			visible = append(visible, rule)
			continue
		}
		if rule.StartDate == nil || !rule.StartDate.After(req.Date) {
			continue
		}
		if rule.Mode != "" && rule.Mode != req.Mode {
			continue
		}
		if emptyWindow(rule) || !uidAllowed(rule, req.UID) {
			continue
		}
		visible = append(visible, rule)
	}
	return visible
}

// HasActiveExamRule reports whether any exam-mode rule applies to the
// subject at the given time, ignoring the request mode. Used to decide
// whether a request should be evaluated in Exam mode at all.
func HasActiveExamRule(rules []Rule, date time.Time, uid string) bool {
	for _, rule := range rules {
		if rule.Mode != ModeExam {
			continue
		}
		if inWindow(rule, date) && uidAllowed(rule, uid) {
			return true
		}
	}
	return false
}

func inWindow(rule Rule, date time.Time) bool {
	if rule.StartDate != nil && date.Before(*rule.StartDate) {
		return false
	}
	// End date is exclusive.
	if rule.EndDate != nil && !date.Before(*rule.EndDate) {
		return false
	}
	return true
}

func emptyWindow(rule Rule) bool {
	return rule.StartDate != nil && rule.EndDate != nil && !rule.StartDate.Before(*rule.EndDate)
}

func uidAllowed(rule Rule, uid string) bool {
	if len(rule.UIDs) == 0 {
		return true
	}
	for _, allowed := range rule.UIDs {
		if allowed == uid {
			return true
		}
	}
	return false
}
