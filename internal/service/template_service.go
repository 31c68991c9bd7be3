// internal/service/template_service.go
package service

import (
	"strconv"
	"strings"

	"github.com/danmuigai/waflow-backend/internal/model"
)

// RenderTemplate substitutes {placeholder} tokens in template. Empty values
// render as "N/A" so a half-filled contact never produces a message with a
// dangling placeholder.
func RenderTemplate(template string, data map[string]string) string {
	result := template
	for k, v := range data {
		if v == "" {
			v = "N/A"
		}
		result = strings.ReplaceAll(result, "{"+k+"}", v)
	}
	return result
}

// ContactData exposes the placeholder values available to message templates.
func ContactData(c *model.Contact) map[string]string {
	if c == nil {
		return map[string]string{}
	}
	return map[string]string{
		"name":  c.Name,
		"phone": c.Phone,
		"city":  c.City,
		"score": strconv.Itoa(c.LeadScore),
	}
}
