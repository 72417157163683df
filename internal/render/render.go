// Package render substitutes lead snapshot fields into message templates.
//
// Substitution is literal, not a templating language: placeholders look like
// {{first_name}}, the vocabulary is fixed, and unknown placeholders pass
// through verbatim so an operator can see exactly what failed to resolve.
package render

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gridhaus/leadflow/pkg/schema"
)

// Render replaces every known {{variable}} in the template with its value
// from the snapshot. It has no side effects and never fails.
func Render(template string, snap *schema.LeadSnapshot) string {
	if template == "" {
		return ""
	}
	result := template
	for key, value := range Vars(snap) {
		result = strings.ReplaceAll(result, "{{"+key+"}}", value)
	}
	return result
}

// Vars builds the substitution vocabulary from a snapshot.
func Vars(snap *schema.LeadSnapshot) map[string]string {
	name := snap.Name
	if name == "" {
		name = "there"
	}
	firstName := name
	if parts := strings.Fields(name); len(parts) > 0 {
		firstName = parts[0]
	}

	return map[string]string{
		"lead_name":      name,
		"first_name":     firstName,
		"property_title": orDefault(snap.PropertyTitle, "the property"),
		"property_type":  orDefault(snap.PropertyType, "property"),
		"property_price": FormatPrice(snap.PriceINR),
		"builder_name":   orDefault(snap.BuilderName, "Builder"),
		"score":          strconv.Itoa(snap.Score),
		"priority_tier":  orDefault(snap.PriorityTier, "Developing"),
		"next_action":    orDefault(snap.NextAction, "Contact us"),
		"location":       location(snap),
		"bedrooms":       intOrNA(snap.Bedrooms),
		"area_sqft":      intOrNA(snap.AreaSqft),
	}
}

// FormatPrice renders a rupee amount with thousands separators, e.g. ₹7,500,000.
func FormatPrice(amount float64) string {
	whole := int64(amount)
	s := fmt.Sprintf("%d", whole)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := "₹" + b.String()
	if neg {
		out = "-" + out
	}
	return out
}

func location(snap *schema.LeadSnapshot) string {
	if snap.Locality != "" {
		return snap.Locality
	}
	if snap.City != "" {
		return snap.City
	}
	return "the area"
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func intOrNA(n int) string {
	if n == 0 {
		return "N/A"
	}
	return strconv.Itoa(n)
}
