package models

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// Category groups catalog entries the way the site navigation does.
type Category string

const (
	CategoryDiploma  Category = "Diploma Course"
	CategoryWorkshop Category = "Workshops"
)

// ParseCategory maps free-form backend categories onto the two catalog groups.
// Anything unrecognised is kept verbatim.
func ParseCategory(s string) Category {
	l := strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.Contains(l, "workshop"):
		return CategoryWorkshop
	case strings.Contains(l, "diploma"), strings.Contains(l, "course"):
		return CategoryDiploma
	default:
		return Category(strings.TrimSpace(s))
	}
}

// Feature is one curriculum entry of a course.
type Feature struct {
	Topic string `json:"topic"`
}

// FeatureList decodes the three shapes the backend uses for course features:
// a native array, a JSON array encoded inside a string, and a comma separated string.
type FeatureList []Feature

func (fl *FeatureList) UnmarshalJSON(b []byte) error {
	features, err := NormalizeFeatures(b)
	if err != nil {
		return err
	}
	*fl = features
	return nil
}

// Topics returns the bare topic strings.
func (fl FeatureList) Topics() []string {
	out := make([]string, 0, len(fl))
	for _, f := range fl {
		out = append(out, f.Topic)
	}
	return out
}

// NormalizeFeatures converts any supported feature encoding into a FeatureList.
// Empty topics are dropped and surrounding whitespace trimmed.
func NormalizeFeatures(raw json.RawMessage) (FeatureList, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return FeatureList{}, nil
	}

	switch raw[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, NewTransformationError("features: " + err.Error())
		}
		out := make(FeatureList, 0, len(items))
		for _, item := range items {
			if topic := featureTopic(item); topic != "" {
				out = append(out, Feature{Topic: topic})
			}
		}
		return out, nil

	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, NewTransformationError("features: " + err.Error())
		}
		s = strings.TrimSpace(s)
		if strings.HasPrefix(s, "[") {
			if out, err := NormalizeFeatures(json.RawMessage(s)); err == nil {
				return out, nil
			}
		}
		return splitFeatures(s), nil

	default:
		return nil, NewTransformationError("features: unsupported encoding " + string(raw))
	}
}

func splitFeatures(s string) FeatureList {
	out := FeatureList{}
	for _, part := range strings.Split(s, ",") {
		if topic := strings.TrimSpace(part); topic != "" {
			out = append(out, Feature{Topic: topic})
		}
	}
	return out
}

// featureTopic reads one array element, which may be a bare string or an object.
func featureTopic(item json.RawMessage) string {
	var s string
	if err := json.Unmarshal(item, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var obj struct {
		Topic string `json:"topic"`
		Title string `json:"title"`
		Name  string `json:"name"`
	}
	if err := json.Unmarshal(item, &obj); err != nil {
		return ""
	}
	for _, v := range []string{obj.Topic, obj.Title, obj.Name} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// Duration is a course length such as 6 weeks. Unit is empty when the backend sent a bare number.
type Duration struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}

var durationUnits = map[string]string{
	"h": "hours", "hr": "hours", "hrs": "hours", "hour": "hours", "hours": "hours",
	"d": "days", "day": "days", "days": "days",
	"w": "weeks", "wk": "weeks", "wks": "weeks", "week": "weeks", "weeks": "weeks",
	"m": "months", "mo": "months", "month": "months", "months": "months",
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*d = Duration{}
		return nil
	}

	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		*d = Duration{Value: n}
		return nil
	}

	if b[0] == '{' {
		type plain Duration
		var p plain
		if err := json.Unmarshal(b, &p); err != nil {
			return NewTransformationError("duration: " + err.Error())
		}
		*d = Duration(p)
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return NewTransformationError("duration: unsupported encoding " + string(b))
	}
	parsed, ok := ParseDuration(s)
	if !ok {
		return NewTransformationError("duration: cannot parse " + strconv.Quote(s))
	}
	*d = parsed
	return nil
}

// ParseDuration reads strings such as "6", "6 weeks", "3 Months" or "2hrs".
func ParseDuration(s string) (Duration, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Duration{}, true
	}
	i := 0
	for i < len(s) && (s[i] >= '0' && s[i] <= '9' || s[i] == '.') {
		i++
	}
	if i == 0 {
		return Duration{}, false
	}
	v, err := strconv.ParseFloat(s[:i], 64)
	if err != nil {
		return Duration{}, false
	}
	rest := strings.ToLower(strings.TrimSpace(s[i:]))
	if f := strings.Fields(rest); len(f) > 0 {
		rest = f[0]
	}
	unit, ok := durationUnits[rest]
	if !ok {
		unit = rest
	}
	return Duration{Value: v, Unit: unit}, true
}

func (d Duration) String() string {
	v := strconv.FormatFloat(d.Value, 'f', -1, 64)
	if d.Unit == "" {
		return v
	}
	return v + " " + d.Unit
}

// Price is a rupee amount. The backend sends either a number or a display string.
type Price float64

func (p *Price) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*p = 0
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		*p = Price(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return NewTransformationError("price: unsupported encoding " + string(b))
	}
	if strings.TrimSpace(s) == "" {
		*p = 0
		return nil
	}
	f, ok := parseFloatLoose(s)
	if !ok {
		return NewTransformationError("price: cannot parse " + strconv.Quote(s))
	}
	*p = Price(f)
	return nil
}

// Paise returns the amount in the smallest currency unit.
func (p Price) Paise() int64 {
	return int64(float64(p)*100 + 0.5)
}

func (p Price) String() string {
	return fmt.Sprintf("₹%s", strconv.FormatFloat(float64(p), 'f', -1, 64))
}

// Image is either a remote URL or an inline data URL decoded from base64.
type Image struct {
	URL         string `json:"url"`
	ContentType string `json:"contentType,omitempty"`
	Inline      bool   `json:"inline,omitempty"`
}

func (img *Image) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*img = Image{}
		return nil
	}
	if b[0] == '{' {
		type plain Image
		var p plain
		if err := json.Unmarshal(b, &p); err != nil {
			return NewTransformationError("image: " + err.Error())
		}
		normalized, err := NormalizeImage(p.URL)
		if err != nil {
			return err
		}
		*img = normalized
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return NewTransformationError("image: unsupported encoding " + string(b))
	}
	normalized, err := NormalizeImage(s)
	if err != nil {
		return err
	}
	*img = normalized
	return nil
}

// shorter strings are asset paths, not base64 images
const minInlineImageLen = 32

// NormalizeImage turns a URL, a data URL or a bare base64 payload into an Image.
func NormalizeImage(s string) (Image, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return Image{}, nil
	case strings.HasPrefix(s, "http://"), strings.HasPrefix(s, "https://"), strings.HasPrefix(s, "/"):
		return Image{URL: s}, nil
	case strings.HasPrefix(s, "data:"):
		comma := strings.IndexByte(s, ',')
		if comma < 0 {
			return Image{}, NewTransformationError("image: malformed data URL")
		}
		meta := strings.TrimPrefix(s[:comma], "data:")
		contentType := strings.TrimSuffix(meta, ";base64")
		return Image{URL: s, ContentType: contentType, Inline: true}, nil
	}

	if len(s) < minInlineImageLen {
		return Image{URL: s}, nil
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		// a relative asset path such as "images/rose.jpg"
		return Image{URL: s}, nil
	}
	mime := mimetype.Detect(data)
	if !strings.HasPrefix(mime.String(), "image/") {
		return Image{}, NewTransformationError("image: base64 payload is " + mime.String())
	}
	contentType := mime.String()
	return Image{
		URL:         "data:" + contentType + ";base64," + s,
		ContentType: contentType,
		Inline:      true,
	}, nil
}

// Course is a catalog entry after normalisation.
type Course struct {
	ID          FlexibleID  `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Price       Price       `json:"price"`
	Duration    Duration    `json:"duration"`
	Capacity    int         `json:"capacity"`
	Enrolled    int         `json:"enrolled"`
	NextBatch   *time.Time  `json:"nextBatch,omitempty"`
	Category    Category    `json:"category"`
	Features    FeatureList `json:"features"`
	Image       Image       `json:"image"`
}

// SeatsLeft returns the remaining capacity, never negative.
func (c Course) SeatsLeft() int {
	if c.Capacity <= c.Enrolled {
		return 0
	}
	return c.Capacity - c.Enrolled
}

// UnmarshalJSON accepts the field spellings used across backend versions.
func (c *Course) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID               FlexibleID      `json:"id"`
		MongoID          FlexibleID      `json:"_id"`
		Title            string          `json:"title"`
		Name             string          `json:"name"`
		Description      string          `json:"description"`
		Price            Price           `json:"price"`
		Duration         Duration        `json:"duration"`
		Capacity         json.RawMessage `json:"capacity"`
		MaxStudents      json.RawMessage `json:"max_students"`
		Enrolled         json.RawMessage `json:"enrolled"`
		EnrolledStudents json.RawMessage `json:"enrolled_students"`
		NextBatch        string          `json:"nextBatch"`
		NextBatchSnake   string          `json:"next_batch"`
		Category         string          `json:"category"`
		Features         FeatureList     `json:"features"`
		Curriculum       FeatureList     `json:"curriculum"`
		Image            Image           `json:"image"`
		ImageURL         Image           `json:"image_url"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	*c = Course{
		ID:          firstID(raw.ID, raw.MongoID),
		Title:       firstNonEmpty(raw.Title, raw.Name),
		Description: raw.Description,
		Price:       raw.Price,
		Duration:    raw.Duration,
		Capacity:    firstInt(raw.Capacity, raw.MaxStudents),
		Enrolled:    firstInt(raw.Enrolled, raw.EnrolledStudents),
		Category:    ParseCategory(raw.Category),
		Features:    raw.Features,
		Image:       raw.Image,
	}
	if len(c.Features) == 0 {
		c.Features = raw.Curriculum
	}
	if c.Features == nil {
		c.Features = FeatureList{}
	}
	if c.Image.URL == "" {
		c.Image = raw.ImageURL
	}
	if t, ok := parseDate(firstNonEmpty(raw.NextBatch, raw.NextBatchSnake)); ok {
		c.NextBatch = &t
	}
	return nil
}

func firstID(ids ...FlexibleID) FlexibleID {
	for _, id := range ids {
		if id != "" {
			return id
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// firstInt returns the first raw value that decodes to an integer, numeric strings included.
func firstInt(values ...json.RawMessage) int {
	for _, raw := range values {
		if len(raw) == 0 || string(raw) == "null" {
			continue
		}
		var n float64
		if err := json.Unmarshal(raw, &n); err == nil {
			return int(n)
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if f, ok := parseFloatLoose(s); ok {
				return int(f)
			}
		}
	}
	return 0
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02",
	"02-01-2006",
	"02/01/2006",
	"January 2, 2006",
	"2 January 2006",
	"Jan 2, 2006",
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
