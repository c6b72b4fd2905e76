package hibp

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Breach is one breach event in canonical form.
type Breach struct {
	Name         string   `json:"breach_name"`
	Title        string   `json:"title"`
	Domain       string   `json:"domain"`
	BreachDate   *string  `json:"occurred_on"`
	AddedDate    *string  `json:"added_on"`
	ModifiedDate *string  `json:"modified_on"`
	PwnCount     *int64   `json:"pwn_count"`
	DataClasses  []string `json:"data_classes"`
	Description  string   `json:"description"`
	LogoPath     string   `json:"logo_path"`

	IsVerified         bool `json:"is_verified"`
	IsSensitive        bool `json:"is_sensitive"`
	IsFabricated       bool `json:"is_fabricated"`
	IsSpamList         bool `json:"is_spam_list"`
	IsRetired          bool `json:"is_retired"`
	IsMalware          bool `json:"is_malware"`
	IsStealerLog       bool `json:"is_stealer_log"`
	IsSubscriptionFree bool `json:"is_subscription_free"`
}

// Candidate source keys per field: upstream spelling first, then our own normalized spelling.
var (
	keysName        = []string{"Name", "breach_name", "name"}
	keysTitle       = []string{"Title", "title"}
	keysDomain      = []string{"Domain", "domain"}
	keysBreachDate  = []string{"BreachDate", "occurred_on", "breach_date"}
	keysAddedDate   = []string{"AddedDate", "added_on"}
	keysModified    = []string{"ModifiedDate", "modified_on"}
	keysPwnCount    = []string{"PwnCount", "pwn_count"}
	keysDataClasses = []string{"DataClasses", "data_classes"}
	keysDescription = []string{"Description", "description"}
	keysLogo        = []string{"LogoPath", "logo_path"}

	flagKeys = map[string][]string{
		"verified":          {"IsVerified", "is_verified"},
		"sensitive":         {"IsSensitive", "is_sensitive"},
		"fabricated":        {"IsFabricated", "is_fabricated"},
		"spam_list":         {"IsSpamList", "is_spam_list"},
		"retired":           {"IsRetired", "is_retired"},
		"malware":           {"IsMalware", "is_malware"},
		"stealer_log":       {"IsStealerLog", "is_stealer_log"},
		"subscription_free": {"IsSubscriptionFree", "is_subscription_free"},
	}
)

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Normalize maps one raw record onto Breach. The second return is false when the
// record carries no stable name and must be dropped.
func Normalize(raw map[string]any) (Breach, bool) {
	name := firstString(raw, keysName)
	if name == "" {
		return Breach{}, false
	}

	b := Breach{
		Name:         name,
		Title:        firstString(raw, keysTitle),
		Domain:       firstString(raw, keysDomain),
		BreachDate:   NormalizeDate(first(raw, keysBreachDate)),
		AddedDate:    NormalizeDate(first(raw, keysAddedDate)),
		ModifiedDate: NormalizeDate(first(raw, keysModified)),
		PwnCount:     coerceInt(first(raw, keysPwnCount)),
		DataClasses:  CoerceList(first(raw, keysDataClasses)),
		Description:  firstString(raw, keysDescription),
		LogoPath:     firstString(raw, keysLogo),

		IsVerified:         CoerceBool(first(raw, flagKeys["verified"])),
		IsSensitive:        CoerceBool(first(raw, flagKeys["sensitive"])),
		IsFabricated:       CoerceBool(first(raw, flagKeys["fabricated"])),
		IsSpamList:         CoerceBool(first(raw, flagKeys["spam_list"])),
		IsRetired:          CoerceBool(first(raw, flagKeys["retired"])),
		IsMalware:          CoerceBool(first(raw, flagKeys["malware"])),
		IsStealerLog:       CoerceBool(first(raw, flagKeys["stealer_log"])),
		IsSubscriptionFree: CoerceBool(first(raw, flagKeys["subscription_free"])),
	}
	if b.Title == "" {
		b.Title = b.Name
	}
	return b, true
}

func first(raw map[string]any, keys []string) any {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func firstString(raw map[string]any, keys []string) string {
	for _, k := range keys {
		if s, ok := raw[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

// NormalizeDate returns a YYYY-MM-DD string or nil. Timestamps are cut to their date part.
func NormalizeDate(v any) *string {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	if len(s) > 10 {
		s = s[:10]
	}
	if !datePattern.MatchString(s) {
		return nil
	}
	return &s
}

// CoerceList accepts a list, a JSON encoded list or a comma separated string and
// returns the distinct trimmed non-empty entries in their original order.
func CoerceList(v any) []string {
	var items []string

	switch t := v.(type) {
	case nil:
	case []string:
		items = t
	case []any:
		for _, e := range t {
			if e != nil {
				items = append(items, fmt.Sprint(e))
			}
		}
	case string:
		s := strings.TrimSpace(t)
		if strings.HasPrefix(s, "[") {
			var decoded []any
			if err := json.Unmarshal([]byte(s), &decoded); err == nil {
				return CoerceList(decoded)
			}
		}
		items = strings.Split(s, ",")
	default:
		items = []string{fmt.Sprint(t)}
	}

	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}

// CoerceBool maps absent and unparseable values to false.
func CoerceBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case json.Number:
		f, err := t.Float64()
		return err == nil && f != 0
	case float64:
		return t != 0
	case int:
		return t != 0
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return err == nil && b
	}
	return false
}

func coerceInt(v any) *int64 {
	var n int64
	switch t := v.(type) {
	case json.Number:
		i, err := t.Int64()
		if err != nil {
			f, ferr := t.Float64()
			if ferr != nil {
				return nil
			}
			i = int64(f)
		}
		n = i
	case float64:
		n = int64(t)
	case int:
		n = int64(t)
	case int64:
		n = t
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return nil
		}
		n = i
	default:
		return nil
	}
	return &n
}
