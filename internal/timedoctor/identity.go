package timedoctor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type ResolutionMethod string

const (
	MethodProvidedRecord    ResolutionMethod = "provided_record"
	MethodDirectLookup      ResolutionMethod = "direct_lookup"
	MethodListSearch        ResolutionMethod = "list_search"
	MethodActivityInference ResolutionMethod = "activity_inference"
	MethodDeviceNamePattern ResolutionMethod = "device_name_pattern"
	MethodSyntheticFallback ResolutionMethod = "synthetic_fallback"
)

type Confidence string

const (
	ConfidenceHigh    Confidence = "high"
	ConfidenceMedium  Confidence = "medium"
	ConfidenceLow     Confidence = "low"
	ConfidenceVeryLow Confidence = "very_low"
)

// Resolution is the best-effort identity for one subject id. Immutable
// after construction.
type Resolution struct {
	SubjectID  string           `json:"subjectId"`
	Name       string           `json:"name,omitempty"`
	Email      string           `json:"email,omitempty"`
	Method     ResolutionMethod `json:"method"`
	Confidence Confidence       `json:"confidence"`
	Success    bool             `json:"success"`
}

// Cache is the small slice of redis the resolver needs; nil disables
// caching.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
}

const (
	usersEndpoint    = "/api/1.0/users"
	activityEndpoint = "/api/1.0/activity/worklog"

	resolutionCacheTTL  = 10 * time.Minute
	activityWindow      = 7 * 24 * time.Hour
	activitySampleLimit = 10
	syntheticPrefixLen  = 8
)

// Resolver turns an opaque subject id into a display identity by cascading
// through independent strategies, cheapest first. Every strategy failure
// degrades to the next strategy; the cascade always terminates in a
// synthetic placeholder, so Resolve never fails.
type Resolver struct {
	client *Client
	cache  Cache
	logger *slog.Logger
	now    func() time.Time
}

func NewResolver(logger *slog.Logger, client *Client, cache Cache) *Resolver {
	return &Resolver{
		client: client,
		cache:  cache,
		logger: logger,
		now:    time.Now,
	}
}

// Resolve produces a Resolution for the subject. known, when the caller
// already holds a fetched record, is consumed first at zero network cost.
func (r *Resolver) Resolve(ctx context.Context, subjectID string, known *User) *Resolution {
	cacheKey := "identity:" + subjectID
	if r.cache != nil {
		if raw, err := r.cache.Get(ctx, cacheKey); err == nil && raw != "" {
			var res Resolution
			if err := json.Unmarshal([]byte(raw), &res); err == nil {
				r.logger.Debug("identity_resolved_from_cache", "subject_id", subjectID)
				return &res
			}
		}
	}

	res := r.resolve(ctx, subjectID, known)

	// only successful resolutions are cached, so fresher data can still
	// upgrade a placeholder
	if r.cache != nil && res.Success {
		if data, err := json.Marshal(res); err == nil {
			if err := r.cache.Set(ctx, cacheKey, string(data), resolutionCacheTTL); err != nil {
				r.logger.Debug("identity_cache_store_failed", "subject_id", subjectID, "error", err)
			}
		}
	}

	return res
}

func (r *Resolver) resolve(ctx context.Context, subjectID string, known *User) *Resolution {
	if known != nil {
		if res := resolutionFromRecord(subjectID, known, MethodProvidedRecord, ConfidenceHigh); res != nil {
			return res
		}
	}

	if res := r.directLookup(ctx, subjectID); res != nil {
		return res
	}
	if res := r.listSearch(ctx, subjectID); res != nil {
		return res
	}

	activityName, deviceNames := r.activityScan(ctx, subjectID)
	if activityName != "" {
		return &Resolution{
			SubjectID:  subjectID,
			Name:       activityName,
			Method:     MethodActivityInference,
			Confidence: ConfidenceLow,
			Success:    true,
		}
	}

	if known != nil && known.ComputerName != "" {
		deviceNames = append([]string{known.ComputerName}, deviceNames...)
	}
	for _, device := range deviceNames {
		if ClassifyDeviceName(device) == DeviceNameReal {
			return &Resolution{
				SubjectID:  subjectID,
				Name:       DeviceNameLabel(device),
				Method:     MethodDeviceNamePattern,
				Confidence: ConfidenceLow,
				Success:    true,
			}
		}
	}

	return syntheticResolution(subjectID)
}

func (r *Resolver) directLookup(ctx context.Context, subjectID string) *Resolution {
	raw, err := r.client.Get(ctx, usersEndpoint+"/"+url.PathEscape(subjectID), nil)
	if err != nil {
		r.logger.Debug("direct_lookup_failed", "subject_id", subjectID, "error", err)
		return nil
	}

	user, err := decodeUserEnvelope(raw)
	if err != nil {
		r.logger.Debug("direct_lookup_undecodable", "subject_id", subjectID, "error", err)
		return nil
	}
	return resolutionFromRecord(subjectID, user, MethodDirectLookup, ConfidenceHigh)
}

func (r *Resolver) listSearch(ctx context.Context, subjectID string) *Resolution {
	col, err := r.client.FetchAll(ctx, usersEndpoint, nil)
	if err != nil {
		r.logger.Debug("list_search_failed", "subject_id", subjectID, "error", err)
		return nil
	}

	for _, item := range col.Items {
		var user User
		if err := json.Unmarshal(item, &user); err != nil {
			continue
		}
		if string(user.ID) == subjectID {
			return resolutionFromRecord(subjectID, &user, MethodListSearch, ConfidenceMedium)
		}
	}

	r.logger.Debug("list_search_no_match", "subject_id", subjectID, "scanned", col.Len())
	return nil
}

// activityScan samples the subject's recent activity for embedded name
// fields, and collects device names for the pattern strategy on the way.
func (r *Resolver) activityScan(ctx context.Context, subjectID string) (name string, deviceNames []string) {
	now := r.now()
	q := url.Values{}
	q.Set("user", subjectID)
	q.Set("from", now.Add(-activityWindow).UTC().Format(time.RFC3339))
	q.Set("to", now.UTC().Format(time.RFC3339))
	q.Set("limit", strconv.Itoa(activitySampleLimit))

	raw, err := r.client.Get(ctx, activityEndpoint, q)
	if err != nil {
		r.logger.Debug("activity_scan_failed", "subject_id", subjectID, "error", err)
		return "", nil
	}

	var env struct {
		Data []ActivityRecord `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		r.logger.Debug("activity_scan_undecodable", "subject_id", subjectID, "error", err)
		return "", nil
	}

	records := env.Data
	if len(records) > activitySampleLimit {
		records = records[:activitySampleLimit]
	}

	for _, rec := range records {
		if rec.ComputerName != "" {
			deviceNames = append(deviceNames, rec.ComputerName)
		}
		if name != "" {
			continue
		}
		if candidate := cleanCandidate(rec.UserName); candidate != "" {
			name = candidate
			continue
		}
		if rec.User != nil {
			if extracted, ok := extractName(rec.User); ok {
				name = extracted
			}
		}
	}
	return name, deviceNames
}

func syntheticResolution(subjectID string) *Resolution {
	short := subjectID
	if len(short) > syntheticPrefixLen {
		short = short[:syntheticPrefixLen]
	}
	return &Resolution{
		SubjectID:  subjectID,
		Name:       fmt.Sprintf("User %s", short),
		Method:     MethodSyntheticFallback,
		Confidence: ConfidenceVeryLow,
		Success:    false,
	}
}

func resolutionFromRecord(subjectID string, u *User, method ResolutionMethod, confidence Confidence) *Resolution {
	name, ok := extractName(u)
	if !ok {
		return nil
	}
	return &Resolution{
		SubjectID:  subjectID,
		Name:       name,
		Email:      extractEmail(u),
		Method:     method,
		Confidence: confidence,
		Success:    true,
	}
}

// extractName walks the candidate fields in fixed priority order and
// returns the first usable one. This is the one shared primitive behind
// every record-based strategy; do not re-implement it per strategy.
func extractName(u *User) (string, bool) {
	if u == nil {
		return "", false
	}

	candidates := []string{
		u.Name,
		u.DisplayName,
		u.FullName,
		u.Username,
		joinNonEmpty(u.FirstName, u.LastName),
		u.FirstName,
		u.LastName,
		emailLocalPart(u.Email),
	}

	for _, c := range candidates {
		if cleaned := cleanCandidate(c); cleaned != "" {
			return cleaned, true
		}
	}
	return "", false
}

func extractEmail(u *User) string {
	if u == nil {
		return ""
	}
	email := strings.TrimSpace(u.Email)
	if email == "" || !strings.Contains(email, "@") || isSentinel(email) {
		return ""
	}
	return email
}

// cleanCandidate trims a candidate and rejects the literal junk values
// upstream records carry in place of real absence.
func cleanCandidate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || isSentinel(s) {
		return ""
	}
	return s
}

func isSentinel(s string) bool {
	switch strings.ToLower(s) {
	case "unknown", "null", "undefined":
		return true
	}
	return false
}

func joinNonEmpty(first, last string) string {
	first = strings.TrimSpace(first)
	last = strings.TrimSpace(last)
	if first != "" && last != "" {
		return first + " " + last
	}
	return ""
}

func emailLocalPart(email string) string {
	email = strings.TrimSpace(email)
	at := strings.Index(email, "@")
	if at <= 0 {
		return ""
	}
	return email[:at]
}

// decodeUserEnvelope accepts both single-resource shapes the upstream
// uses: {data: {...}} and bare {...}.
func decodeUserEnvelope(raw json.RawMessage) (*User, error) {
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	body := raw
	if err := json.Unmarshal(raw, &env); err == nil && len(env.Data) > 0 && !isJSONArray(env.Data) {
		body = env.Data
	}

	var user User
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, err
	}
	return &user, nil
}
