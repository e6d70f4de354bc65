// Package template renders {{placeholder}} references in outbound message
// content from lead attributes.
package template

import (
	"regexp"
	"strings"

	"github.com/leadflow/leadflow/pkg/models"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_]+)\s*\}\}`)

// RenderForLead substitutes lead attributes into content. Recognized
// placeholders are name, phone, status and tags; unknown placeholders are
// left untouched so a broken template is visible in the delivered message
// rather than silently blanked.
func RenderForLead(content string, lead *models.Lead) string {
	if lead == nil {
		return content
	}

	attrs := map[string]string{
		"name":   lead.Name,
		"phone":  lead.Phone,
		"status": lead.Status,
		"tags":   strings.Join(lead.Tags, ", "),
	}

	return placeholderPattern.ReplaceAllStringFunc(content, func(match string) string {
		key := placeholderPattern.FindStringSubmatch(match)[1]

		value, known := attrs[strings.ToLower(key)]
		if !known {
			return match
		}

		return value
	})
}
