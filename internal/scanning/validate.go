package scanning

import (
	stderrors "errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/net/idna"

	"github.com/anstrom/tracerama/internal/errors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateRequest checks a request before it reaches the scanner.
func ValidateRequest(req Request) error {
	if err := validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if stderrors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return errors.NewScanErrorWithTarget(errors.CodeValidation,
				fmt.Sprintf("invalid %s: %v fails %q", strings.ToLower(fe.Field()), fe.Value(), fe.Tag()),
				req.Target).WithContext("field", fe.Field())
		}
		return errors.WrapScanErrorWithTarget(errors.CodeValidation, "invalid request", req.Target, err)
	}

	if _, err := hostTarget(req.Target); err != nil {
		return err
	}

	for _, arg := range req.ExtraArgs {
		if strings.HasPrefix(arg, "-o") {
			return errors.NewScanErrorWithTarget(errors.CodeValidation,
				fmt.Sprintf("extra argument %q would redirect scanner output", arg), req.Target)
		}
	}
	return nil
}

// hostTarget returns the form of target handed to the scanner: IP literals
// unchanged, names converted to their ASCII (punycode) form.
func hostTarget(target string) (string, error) {
	t := strings.TrimSpace(target)
	if t == "" || t != target {
		return "", errors.NewScanErrorWithTarget(errors.CodeTargetInvalid, "target must be a non-empty host without surrounding spaces", target)
	}
	if strings.HasPrefix(t, "-") {
		return "", errors.NewScanErrorWithTarget(errors.CodeTargetInvalid, "target must not start with '-'", target)
	}
	if _, err := netip.ParseAddr(t); err == nil {
		return t, nil
	}
	ascii, err := idna.Lookup.ToASCII(t)
	if err != nil {
		return "", errors.ErrInvalidTarget(target, err)
	}
	return ascii, nil
}
