package metadata

import "fmt"

type Severity uint8

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	}
	return "error"
}

func SeverityFromString(s string) (Severity, error) {
	switch s {
	case "info", "Info":
		return SeverityInfo, nil
	case "warning", "Warning", "warn":
		return SeverityWarning, nil
	case "error", "Error":
		return SeverityError, nil
	}
	return SeverityInfo, fmt.Errorf("string %s is not a valid Severity", s)
}

/** @brief Selects which validators run. Flags may be combined. */
type ValidationScope uint32

const (
	ValidateBindingPointConflicts ValidationScope = 1 << iota
	ValidateTypeMismatch
	ValidateSizeAlignment
	ValidateLifecycle
	ValidateDependencies
	ValidateStaleness

	ValidateAll = ValidateBindingPointConflicts | ValidateTypeMismatch | ValidateSizeAlignment |
		ValidateLifecycle | ValidateDependencies | ValidateStaleness
)

func (v ValidationScope) Has(f ValidationScope) bool {
	return v&f != 0
}

/** @brief Which validator produced an issue. */
type IssueCategory uint8

const (
	IssueBindingPointConflict IssueCategory = iota
	IssueTypeMismatch
	IssueSizeAlignment
	IssueLifecycleTransition
	IssueDependency
	IssueStaleness
)

func (c IssueCategory) String() string {
	switch c {
	case IssueBindingPointConflict:
		return "BindingPointConflict"
	case IssueTypeMismatch:
		return "TypeMismatch"
	case IssueSizeAlignment:
		return "SizeAlignment"
	case IssueLifecycleTransition:
		return "LifecycleTransition"
	case IssueDependency:
		return "Dependency"
	}
	return "Staleness"
}

/** @brief A single finding of a validator. */
type ValidationIssue struct {
	Severity Severity
	Category IssueCategory
	/** @brief The resource the issue is about. Empty for registry-wide issues. */
	Name    string
	Message string
}

func (i ValidationIssue) String() string {
	if i.Name == "" {
		return fmt.Sprintf("[%s] %s: %s", i.Severity, i.Category, i.Message)
	}
	return fmt.Sprintf("[%s] %s %s: %s", i.Severity, i.Category, i.Name, i.Message)
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	v, err := SeverityFromString(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
