package links

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	MinCodeLength  = 3
	MaxCodeLength  = 20
	MaxTitleLength = 200
	MaxURLLength   = 2048
)

// NormalizeCode trims and lowercases a short code.
func NormalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// ValidateCode checks an already normalized short code.
func ValidateCode(code string) error {
	if len(code) < MinCodeLength || len(code) > MaxCodeLength {
		return fmt.Errorf("short code must be between %d and %d characters", MinCodeLength, MaxCodeLength)
	}
	for _, c := range code {
		if !isCodeChar(c) {
			return errors.New("short code must be alphanumeric")
		}
	}
	return nil
}

func isCodeChar(c rune) bool {
	switch {
	case c >= 'a' && c <= 'z':
		return true
	case c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9':
		return true
	default:
		return false
	}
}

// ValidateTargetURL requires an explicit http:// or https:// prefix and a host.
func ValidateTargetURL(raw string) error {
	if raw == "" {
		return errors.New("target url cannot be empty")
	}
	if len(raw) > MaxURLLength {
		return fmt.Errorf("target url too long (max %d characters)", MaxURLLength)
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return errors.New("target url must start with http:// or https://")
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return errors.New("invalid target url format")
	}
	if parsed.Host == "" {
		return errors.New("target url must include host")
	}
	return nil
}

func validateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return errors.New("title cannot be empty")
	}
	if len(title) > MaxTitleLength {
		return fmt.Errorf("title too long (max %d characters)", MaxTitleLength)
	}
	return nil
}

// Normalize validates s and returns a copy with the short code lowercased.
func (s CreateSpec) Normalize() (CreateSpec, error) {
	if s.ShortCode != "" {
		s.ShortCode = NormalizeCode(s.ShortCode)
		if err := ValidateCode(s.ShortCode); err != nil {
			return CreateSpec{}, err
		}
	}
	if err := ValidateTargetURL(s.TargetURL); err != nil {
		return CreateSpec{}, err
	}
	if err := validateTitle(s.Title); err != nil {
		return CreateSpec{}, err
	}
	return s, nil
}

// Validate checks the fields present in a partial update.
func (s UpdateSpec) Validate() error {
	if s.TargetURL != nil {
		if err := ValidateTargetURL(*s.TargetURL); err != nil {
			return err
		}
	}
	if s.Title != nil {
		if err := validateTitle(*s.Title); err != nil {
			return err
		}
	}
	return nil
}
