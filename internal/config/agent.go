package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// AgentConfig configures the kiosk and officer agents run by cmd/callsim.
type AgentConfig struct {
	Env string

	CoordURL string
	PushURL  string

	KioskID   int64
	OfficerID int64

	PollInterval time.Duration
	RingTimeout  time.Duration
	AutoAnswer   bool

	// AllowList maps a kiosk id to the officers it may call.
	AllowList map[int64][]int64
}

const (
	defaultPollInterval = 3 * time.Second
	defaultRingTimeout  = 30 * time.Second
	defaultAllowList    = "1:1,3,5;2:2,4,6"
)

func LoadAgent() (AgentConfig, error) {
	c := AgentConfig{}
	var parseErrs []error

	c.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	if c.Env == "" {
		c.Env = "local"
	}
	c.CoordURL = strings.TrimRight(strings.TrimSpace(os.Getenv("COORD_URL")), "/")
	c.PushURL = strings.TrimSpace(os.Getenv("PUSH_URL"))

	var err error
	if c.KioskID, err = optionalID("KIOSK_ID"); err != nil {
		parseErrs = append(parseErrs, err)
	}
	if c.OfficerID, err = optionalID("OFFICER_ID"); err != nil {
		parseErrs = append(parseErrs, err)
	}
	if c.PollInterval, err = optionalDuration("CALL_POLL_INTERVAL", defaultPollInterval); err != nil {
		parseErrs = append(parseErrs, err)
	}
	if c.RingTimeout, err = optionalDuration("CALL_RING_TIMEOUT", defaultRingTimeout); err != nil {
		parseErrs = append(parseErrs, err)
	}
	if c.AutoAnswer, err = optionalBool("CALL_AUTO_ANSWER", true); err != nil {
		parseErrs = append(parseErrs, err)
	}

	raw := strings.TrimSpace(os.Getenv("KIOSK_ALLOW_LIST"))
	if raw == "" {
		raw = defaultAllowList
	}
	if c.AllowList, err = ParseAllowList(raw); err != nil {
		parseErrs = append(parseErrs, fmt.Errorf("KIOSK_ALLOW_LIST: %w", err))
	}

	if err := joinErrors(parseErrs); err != nil {
		return AgentConfig{}, err
	}
	if err := c.Validate(); err != nil {
		return AgentConfig{}, err
	}
	return c, nil
}

func (c AgentConfig) Validate() error {
	var errs []error

	if c.CoordURL == "" {
		errs = append(errs, errors.New("COORD_URL is required"))
	} else if u, err := url.Parse(c.CoordURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Errorf("COORD_URL must be an http(s) URL, got %q", c.CoordURL))
	}
	if c.PushURL != "" {
		if u, err := url.Parse(c.PushURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			errs = append(errs, fmt.Errorf("PUSH_URL must be a ws(s) URL, got %q", c.PushURL))
		}
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("CALL_POLL_INTERVAL must be positive"))
	}
	if c.RingTimeout <= 0 {
		errs = append(errs, errors.New("CALL_RING_TIMEOUT must be positive"))
	}
	return joinErrors(errs)
}

// ParseAllowList parses "kiosk:officer,officer;kiosk:officer". Officer ids
// keep their listed order.
func ParseAllowList(v string) (map[int64][]int64, error) {
	out := make(map[int64][]int64)
	for _, entry := range strings.Split(v, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		kiosk, officers, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, fmt.Errorf("entry %q: expected kiosk:officers", entry)
		}
		kid, err := parseID(kiosk)
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", entry, err)
		}
		for _, o := range strings.Split(officers, ",") {
			if strings.TrimSpace(o) == "" {
				continue
			}
			oid, err := parseID(o)
			if err != nil {
				return nil, fmt.Errorf("entry %q: %w", entry, err)
			}
			out[kid] = append(out[kid], oid)
		}
	}
	return out, nil
}

// FormatAllowList is the inverse of ParseAllowList, with kiosks sorted.
func FormatAllowList(m map[int64][]int64) string {
	kiosks := make([]int64, 0, len(m))
	for k := range m {
		kiosks = append(kiosks, k)
	}
	sort.Slice(kiosks, func(i, j int) bool { return kiosks[i] < kiosks[j] })

	parts := make([]string, 0, len(kiosks))
	for _, k := range kiosks {
		ids := make([]string, 0, len(m[k]))
		for _, o := range m[k] {
			ids = append(ids, strconv.FormatInt(o, 10))
		}
		parts = append(parts, fmt.Sprintf("%d:%s", k, strings.Join(ids, ",")))
	}
	return strings.Join(parts, ";")
}

func parseID(v string) (int64, error) {
	v = strings.TrimSpace(v)
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid id %q", v)
	}
	return n, nil
}

func optionalID(key string) (int64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	n, err := parseID(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, v)
	}
	return n, nil
}

func optionalDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("%s must be a duration, got %q", key, v)
	}
	return d, nil
}
