package notification

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	htmltemplate "html/template"
	"math"
	"strings"
	texttemplate "text/template"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

//go:embed templates/*.html templates/*.txt
var templateFS embed.FS

// TemplateName identifies one of the built-in email templates.
type TemplateName string

const (
	TemplateInquiryConfirmation TemplateName = "inquiry_confirmation"
	TemplateAdminNotification   TemplateName = "admin_notification"
	TemplateRFQReceived         TemplateName = "rfq_received"
	TemplateQuoteSent           TemplateName = "quote_sent"
)

// Branding is shared by every template.
type Branding struct {
	CompanyName string `json:"company_name"`
	BaseURL     string `json:"base_url"`
}

type InquiryConfirmationData struct {
	Branding
	FullName    string `json:"full_name"`
	InquiryID   string `json:"inquiry_id"`
	InquiryType string `json:"inquiry_type"`
}

type AdminNotificationData struct {
	Branding
	InquiryID      string `json:"inquiry_id"`
	FullName       string `json:"full_name"`
	Email          string `json:"email"`
	Company        string `json:"company,omitempty"`
	Country        string `json:"country"`
	InquiryType    string `json:"inquiry_type"`
	Message        string `json:"message"`
	LeadScore      int    `json:"lead_score"`
	Category       string `json:"category"`
	ResponseWindow string `json:"response_window"`
	HighPriority   bool   `json:"high_priority"`
}

type RFQReceivedData struct {
	Branding
	FullName        string `json:"full_name"`
	ProductCategory string `json:"product_category"`
	Quantity        int    `json:"quantity,omitempty"`
	RFQID           string `json:"rfq_id"`
}

type QuoteSentData struct {
	Branding
	FullName        string         `json:"full_name"`
	ProductCategory string         `json:"product_category"`
	Quantity        int            `json:"quantity,omitempty"`
	QuoteAmount     float64        `json:"quote_amount"`
	RFQID           string         `json:"rfq_id"`
	Notes           string         `json:"notes,omitempty"`
	Specifications  map[string]any `json:"specifications,omitempty"`
}

// Rendered is a template expanded into a ready-to-queue email.
type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

var subjects = map[TemplateName]string{
	TemplateInquiryConfirmation: "Thank You for Contacting {{.CompanyName}}",
	TemplateAdminNotification:   "New {{if .HighPriority}}HIGH PRIORITY {{end}}Inquiry from {{.Country}}",
	TemplateRFQReceived:         "Your RFQ Has Been Received - {{.CompanyName}}",
	TemplateQuoteSent:           "Your Quote from {{.CompanyName}} - {{upper .ProductCategory}} ({{usd .QuoteAmount}})",
}

var usdPrinter = message.NewPrinter(language.AmericanEnglish)

// formatUSD renders whole dollars with thousands separators, e.g. $1,250,000.
func formatUSD(amount float64) string {
	return usdPrinter.Sprintf("$%d", int64(math.Round(amount)))
}

var templateFuncs = map[string]any{
	"upper": strings.ToUpper,
	"usd":   formatUSD,
}

type compiledTemplate struct {
	subject *texttemplate.Template
	html    *htmltemplate.Template
	text    *texttemplate.Template
}

var compiled = mustCompileTemplates()

func mustCompileTemplates() map[TemplateName]compiledTemplate {
	out := make(map[TemplateName]compiledTemplate, len(subjects))
	for name, subject := range subjects {
		html := htmltemplate.Must(htmltemplate.New("base.html").
			Funcs(htmltemplate.FuncMap(templateFuncs)).
			ParseFS(templateFS, "templates/base.html", "templates/"+string(name)+".html"))
		text := texttemplate.Must(texttemplate.New(string(name) + ".txt").
			Funcs(texttemplate.FuncMap(templateFuncs)).
			ParseFS(templateFS, "templates/"+string(name)+".txt"))
		out[name] = compiledTemplate{
			subject: texttemplate.Must(texttemplate.New("subject").Funcs(texttemplate.FuncMap(templateFuncs)).Parse(subject)),
			html:    html,
			text:    text,
		}
	}
	return out
}

// Render expands the named template with data, which must be the matching
// *Data struct for that template.
func Render(name TemplateName, data any) (Rendered, error) {
	tmpl, ok := compiled[name]
	if !ok {
		return Rendered{}, fmt.Errorf("unknown email template %q", name)
	}

	var subject, html, text bytes.Buffer
	if err := tmpl.subject.Execute(&subject, data); err != nil {
		return Rendered{}, fmt.Errorf("execute subject for %s: %w", name, err)
	}
	if err := tmpl.html.ExecuteTemplate(&html, "email", data); err != nil {
		return Rendered{}, fmt.Errorf("execute html template %s: %w", name, err)
	}
	if err := tmpl.text.Execute(&text, data); err != nil {
		return Rendered{}, fmt.Errorf("execute text template %s: %w", name, err)
	}

	return Rendered{
		Subject: strings.TrimSpace(subject.String()),
		HTML:    html.String(),
		Text:    strings.TrimSpace(text.String()),
	}, nil
}

// templateParams flattens template data into the map stored on the message row.
func templateParams(data any) (map[string]any, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var params map[string]any
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, err
	}
	return params, nil
}
