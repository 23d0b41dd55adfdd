// Package validation provides validation functions for Santa rule set
// declarations. The identifier formats follow the ones the Santa agent
// accepts for each rule type.
package validation

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/zentral/zentral/internal/domain"
)

// MaxNameLength is the maximum length of rule set and configuration names.
const MaxNameLength = 256

// PlatformSigningIDPrefix prefixes signing IDs of platform binaries.
const PlatformSigningIDPrefix = "platform"

// isUpper returns true if the byte is an ASCII upper case letter.
func isUpper(b byte) bool {
	return b >= 'A' && b <= 'Z'
}

// isNum returns true if the byte is an ASCII digit.
func isNum(b byte) bool {
	return b >= '0' && b <= '9'
}

// isHex returns true if the byte is an ASCII hex digit of either case.
func isHex(b byte) bool {
	return isNum(b) || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}

// ValidateSha256 checks a hex encoded sha256 and returns it lower-cased.
func ValidateSha256(value string) (string, error) {
	if len(value) != 64 {
		return "", errors.New("must be 64 hexadecimal characters")
	}
	for i := 0; i < len(value); i++ {
		if !isHex(value[i]) {
			return "", errors.New("must be 64 hexadecimal characters")
		}
	}
	return strings.ToLower(value), nil
}

// ValidateTeamID checks an Apple developer team ID: 10 upper case letters or digits.
func ValidateTeamID(value string) error {
	if len(value) != 10 {
		return fmt.Errorf("invalid team ID %q: must be 10 characters", value)
	}
	for i := 0; i < len(value); i++ {
		if !isUpper(value[i]) && !isNum(value[i]) {
			return fmt.Errorf("invalid team ID %q: only upper case letters and digits allowed", value)
		}
	}
	return nil
}

// ValidateSigningID checks a signing ID of the form <team ID>:<identifier>
// or platform:<identifier>.
func ValidateSigningID(value string) error {
	prefix, identifier, ok := strings.Cut(value, ":")
	if !ok || identifier == "" {
		return fmt.Errorf("invalid signing ID %q: must be <team ID>:<identifier>", value)
	}
	if prefix == PlatformSigningIDPrefix {
		return nil
	}
	if err := ValidateTeamID(prefix); err != nil {
		return fmt.Errorf("invalid signing ID %q: %w", value, err)
	}
	return nil
}

// ValidateIdentifier checks an identifier against the format of its target
// type and returns its canonical form.
func ValidateIdentifier(targetType domain.TargetType, identifier string) (string, error) {
	switch {
	case targetType.IsHash():
		return ValidateSha256(identifier)
	case targetType == domain.TargetTeamID:
		return identifier, ValidateTeamID(identifier)
	case targetType == domain.TargetSigningID:
		return identifier, ValidateSigningID(identifier)
	default:
		return "", fmt.Errorf("unknown rule type %q", targetType)
	}
}

// ValidateName checks a rule set or configuration name.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("This field may not be blank.")
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("Ensure this field has no more than %d characters.", MaxNameLength)
	}
	return nil
}

// cleanScope trims, deduplicates and sorts scope values. Blank values are
// reported by index.
func cleanScope(field string, values []string, errs *ValidationErrors) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for i, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			errs.Add(field+"."+strconv.Itoa(i), v, "This field may not be blank.")
			continue
		}
		out = append(out, v)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// ValidateRuleDeclaration validates one declared rule. Error fields are
// relative to the declaration.
func ValidateRuleDeclaration(index int, d *domain.RuleDeclaration) (domain.DesiredRule, ValidationErrors) {
	var errs ValidationErrors
	desired := domain.DesiredRule{Index: index}

	ruleType := domain.TargetType(strings.ToUpper(string(d.RuleType)))
	switch {
	case d.RuleType == "":
		errs.Add("rule_type", "", "This field is required.")
	case !ruleType.IsValid():
		errs.Add("rule_type", string(d.RuleType), fmt.Sprintf("%q is not a valid choice.", d.RuleType))
	}

	identifier := d.TargetIdentifier()
	if d.Identifier != "" && d.Sha256 != "" && d.Identifier != d.Sha256 {
		errs.Add(NonFieldErrors, "", "identifier and sha256 differ")
	}
	if identifier == "" {
		errs.Add("identifier", "", "This field is required.")
	} else if ruleType.IsValid() {
		canonical, err := ValidateIdentifier(ruleType, identifier)
		if err != nil {
			errs.Add("identifier", identifier, err.Error())
		}
		desired.Target = domain.TargetKey{Type: ruleType, Identifier: canonical}
	}

	if d.Policy == "" {
		errs.Add("policy", "", "This field is required.")
	} else if policy, err := domain.ParsePolicy(strings.ToUpper(d.Policy)); err != nil {
		errs.Add("policy", d.Policy, fmt.Sprintf("%q is not a valid choice.", d.Policy))
	} else {
		desired.Policy = policy
		if ruleType == domain.TargetBundle && !slices.Contains(domain.BundlePolicies, policy) {
			errs.Add("policy", d.Policy, "Policy not allowed for bundles.")
		}
		if d.CustomMessage != "" && !policy.IsBlocking() {
			errs.Add("custom_msg", d.CustomMessage, "Can only be set on BLOCKLIST rules")
		}
	}
	desired.CustomMessage = d.CustomMessage

	desired.SerialNumbers = cleanScope("serial_numbers", d.SerialNumbers, &errs)
	desired.PrimaryUsers = cleanScope("primary_users", d.PrimaryUsers, &errs)
	desired.Tags = cleanScope("tags", d.Tags, &errs)

	return desired, errs
}

// ValidateRuleSetUpsert validates a rule set declaration and returns the
// desired rules in submission order. The error is a ValidationErrors.
func ValidateRuleSetUpsert(req *domain.RuleSetUpsertRequest) ([]domain.DesiredRule, error) {
	var errs ValidationErrors
	if err := ValidateName(req.Name); err != nil {
		errs.Add("name", req.Name, err.Error())
	}
	for i, name := range req.Configurations {
		if strings.TrimSpace(name) == "" {
			errs.Add("configurations."+strconv.Itoa(i), name, "This field may not be blank.")
		}
	}
	if req.Rules == nil {
		errs.Add("rules", "", "This field is required.")
	}

	desired := make([]domain.DesiredRule, 0, len(req.Rules))
	for i := range req.Rules {
		rule, ruleErrs := ValidateRuleDeclaration(i, &req.Rules[i])
		errs.Merge("rules."+strconv.Itoa(i), ruleErrs)
		desired = append(desired, rule)
	}
	if errs.HasErrors() {
		return nil, errs
	}
	return desired, nil
}
