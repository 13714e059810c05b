package dispatch

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/af-corp/prompt-gateway/internal/filter/schema"
	"github.com/af-corp/prompt-gateway/internal/httputil"
	"github.com/af-corp/prompt-gateway/internal/inference"
)

// Category is the error class a rule assigns.
type Category string

const (
	CategoryValidation         Category = "validation"
	CategoryServiceUnavailable Category = "service_unavailable"
	CategoryGeneric            Category = "generic"
)

// Classified is the response and audit metadata computed for one error.
type Classified struct {
	StatusCode    int
	Category      Category
	Name          string
	PublicMessage string
	Details       []httputil.FieldDetail
}

// Rule matches an error and classifies it. Rules are evaluated in order and
// the first match wins.
type Rule struct {
	Category Category
	Match    func(error) bool
	Classify func(error) Classified
}

// DefaultRules returns validation, service-unavailable and the generic
// catch-all, in that order.
func DefaultRules() []Rule {
	return []Rule{
		{
			Category: CategoryValidation,
			Match: func(err error) bool {
				var verr *schema.ValidationError
				return errors.As(err, &verr)
			},
			Classify: func(err error) Classified {
				var verr *schema.ValidationError
				errors.As(err, &verr)
				return Classified{
					StatusCode:    http.StatusBadRequest,
					Category:      CategoryValidation,
					Name:          "ValidationError",
					PublicMessage: httputil.InvalidBodyError,
					Details:       verr.Details,
				}
			},
		},
		{
			Category: CategoryServiceUnavailable,
			Match: func(err error) bool {
				var ierr *inference.Error
				return errors.As(err, &ierr) && ierr.ConnectionRefused()
			},
			Classify: func(err error) Classified {
				var ierr *inference.Error
				errors.As(err, &ierr)
				return Classified{
					StatusCode:    http.StatusServiceUnavailable,
					Category:      CategoryServiceUnavailable,
					Name:          "InferenceError",
					PublicMessage: fmt.Sprintf("%s, Service Unavailable: %v", ierr.Service, ierr.Err),
				}
			},
		},
		{
			Category: CategoryGeneric,
			Match:    func(error) bool { return true },
			Classify: classifyGeneric,
		},
	}
}

type statusCoder interface {
	StatusCode() int
}

func classifyGeneric(err error) Classified {
	status := http.StatusInternalServerError
	var sc statusCoder
	if errors.As(err, &sc) {
		if code := sc.StatusCode(); code >= 400 && code <= 599 {
			status = code
		}
	}
	msg := err.Error()
	if msg == "" {
		msg = http.StatusText(http.StatusInternalServerError)
	}
	return Classified{
		StatusCode:    status,
		Category:      CategoryGeneric,
		Name:          fmt.Sprintf("%T", err),
		PublicMessage: msg,
	}
}
