// Package model holds the shared domain types the engine operates on:
// API profiles, proxies, accounts, schedules, comments, and view
// schedules. Types here are persistence-agnostic; internal/db maps them
// to and from Postgres rows.
package model

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ApiProfileStatus is the quota state of an ApiProfile.
type ApiProfileStatus string

const (
	ApiProfileNotExceeded ApiProfileStatus = "not_exceeded"
	ApiProfileExceeded    ApiProfileStatus = "exceeded"
)

// ApiProfile is a set of credentials against the upstream platform.
type ApiProfile struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	ClientID     string
	ClientSecret string
	RedirectURI  string
	APIKey       string
	UsedQuota    int64
	LimitQuota   int64
	Status       ApiProfileStatus
	ExceededAt   *time.Time
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ProxyProtocol is the egress protocol a Proxy speaks.
type ProxyProtocol string

const (
	ProxyHTTP   ProxyProtocol = "http"
	ProxyHTTPS  ProxyProtocol = "https"
	ProxySOCKS5 ProxyProtocol = "socks5"
)

// ProxyStatus is the health state of a Proxy.
type ProxyStatus string

const (
	ProxyActive   ProxyStatus = "active"
	ProxyInactive ProxyStatus = "inactive"
)

// Proxy is a remote egress endpoint owned by a User.
type Proxy struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	Host            string
	Port            int
	Username        string
	Password        string
	Protocol        ProxyProtocol
	Status          ProxyStatus
	LastChecked     *time.Time
	ConnectionSpeed *float64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// URL builds the proxy URL consumed by an HTTP transport:
// proto://[user:pass@]host:port.
func (p Proxy) URL() string {
	auth := ""
	if p.Username != "" {
		auth = p.Username
		if p.Password != "" {
			auth += ":" + p.Password
		}
		auth += "@"
	}
	return string(p.Protocol) + "://" + auth + p.Host + ":" + strconv.Itoa(p.Port)
}

// AccountStatus is the dispatch eligibility state of an Account.
type AccountStatus string

const (
	AccountActive   AccountStatus = "active"
	AccountInactive AccountStatus = "inactive"
	AccountLimited  AccountStatus = "limited"
)

// DefaultProxyErrorThreshold is the default proxyErrorThreshold for a new Account.
const DefaultProxyErrorThreshold = 20

// Account is a posting identity linked to a User, an optional Proxy, and an ApiProfile.
type Account struct {
	ID                  uuid.UUID
	UserID              uuid.UUID
	ProxyID             *uuid.UUID
	ApiProfileID        uuid.UUID
	AccessToken         string
	RefreshToken        string
	TokenExpiry         *time.Time
	ChannelID           string
	ChannelTitle        string
	Status              AccountStatus
	LastUsed            *time.Time
	LastMessage         string
	ProxyErrorCount     int
	DuplicationCount    int
	ProxyErrorThreshold int
	CommentCount        int
	LikeCount           int
	DailyUsageDate      time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// ResetDailyUsageIfStale zeroes the per-day counters when DailyUsageDate is not today.
func (a *Account) ResetDailyUsageIfStale(today time.Time) {
	if !sameDay(a.DailyUsageDate, today) {
		a.CommentCount = 0
		a.LikeCount = 0
		a.DailyUsageDate = today
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// ScheduleStatus is the lifecycle state of a Schedule.
type ScheduleStatus string

const (
	ScheduleActive         ScheduleStatus = "active"
	SchedulePaused         ScheduleStatus = "paused"
	ScheduleCompleted      ScheduleStatus = "completed"
	ScheduleError          ScheduleStatus = "error"
	ScheduleRequiresReview ScheduleStatus = "requires_review"
)

// ScheduleType is the normalised tagged-variant form of the schedule's
// firing policy (see SPEC_FULL.md §9 / distilled spec Design Notes on
// normalising dynamically-shaped payloads into tagged variants).
type ScheduleType string

const (
	ScheduleImmediate ScheduleType = "immediate"
	ScheduleOnce      ScheduleType = "once"
	ScheduleRecurring ScheduleType = "recurring"
	ScheduleInterval  ScheduleType = "interval"
)

// IntervalUnit is the unit of Schedule.Interval.Value.
type IntervalUnit string

const (
	IntervalMinutes IntervalUnit = "minutes"
	IntervalHours   IntervalUnit = "hours"
	IntervalDays    IntervalUnit = "days"
)

// Interval is the normalised interval configuration: either a fixed
// value or a random range redrawn each non-trigger cycle.
type Interval struct {
	Value    int
	Unit     IntervalUnit
	IsRandom bool
	Min      int
	Max      int
}

// Milliseconds converts Value (in Unit) to milliseconds.
func (iv Interval) Milliseconds() int64 {
	var perUnit int64
	switch iv.Unit {
	case IntervalHours:
		perUnit = int64(time.Hour / time.Millisecond)
	case IntervalDays:
		perUnit = int64(24 * time.Hour / time.Millisecond)
	default:
		perUnit = int64(time.Minute / time.Millisecond)
	}
	return int64(iv.Value) * perUnit
}

// LimitComments is the normalised "sleep every N posts" configuration.
type LimitComments struct {
	Value    int
	IsRandom bool
	Min      int
	Max      int
}

// AccountSelection is the candidate-pool policy for Account Selector (C8).
type AccountSelection string

const (
	SelectionSpecific   AccountSelection = "specific"
	SelectionRandom     AccountSelection = "random"
	SelectionRoundRobin AccountSelection = "round-robin"
)

// RotationSide names which account pool is currently dispatching.
type RotationSide string

const (
	RotationPrincipal RotationSide = "principal"
	RotationSecondary RotationSide = "secondary"
)

// TargetVideo is one posting target.
type TargetVideo struct {
	VideoID string
	Title   string
}

// Schedule is the user's posting plan.
type Schedule struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	Status   ScheduleStatus
	Type     ScheduleType
	StartDate *time.Time
	EndDate   *time.Time

	CronExpression string
	Interval       Interval

	CommentTemplates []string
	TargetVideos     []TargetVideo
	TargetChannels   []string

	AccountSelection AccountSelection
	SelectedAccounts []uuid.UUID

	PrincipalAccounts []uuid.UUID
	SecondaryAccounts []uuid.UUID
	RotationEnabled   bool
	CurrentlyActive   RotationSide
	RotatedPrincipal  []uuid.UUID
	RotatedSecondary  []uuid.UUID
	LastRotatedAt     *time.Time

	UseAI         bool
	IncludeEmojis bool

	MinDelay       int // seconds
	MaxDelay       int // seconds
	BetweenAccounts int // milliseconds, default 1500

	LimitComments LimitComments

	SleepDelayMinutes   int
	SleepDelayStartTime *time.Time
	LastSleepTriggerCount int

	LastUsedAccountID *uuid.UUID

	NextRunAt      *time.Time
	LastProcessedAt *time.Time

	TotalComments   int
	PostedComments  int
	FailedComments  int
	ErrorCount      int
	ErrorMessage    string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ActivePool returns the account set currently eligible to dispatch,
// based on CurrentlyActive, falling back to PrincipalAccounts when
// rotation is disabled.
func (s Schedule) ActivePool() []uuid.UUID {
	if !s.RotationEnabled {
		return s.SelectedAccounts
	}
	if s.CurrentlyActive == RotationSecondary {
		return s.SecondaryAccounts
	}
	return s.PrincipalAccounts
}

// InSleepWindow reports whether the schedule is currently inside an
// active (not yet expired) sleep window.
func (s Schedule) InSleepWindow(now time.Time) bool {
	if s.SleepDelayStartTime == nil || s.SleepDelayMinutes <= 0 {
		return false
	}
	end := s.SleepDelayStartTime.Add(time.Duration(s.SleepDelayMinutes) * time.Minute)
	return now.Before(end)
}

// CommentStatus is the lifecycle state of a Comment.
type CommentStatus string

const (
	CommentPending   CommentStatus = "pending"
	CommentScheduled CommentStatus = "scheduled"
	CommentPosted    CommentStatus = "posted"
	CommentFailed    CommentStatus = "failed"
)

// Comment is one post attempt record.
type Comment struct {
	ID                     uuid.UUID
	ScheduleID             uuid.UUID
	AccountID              uuid.UUID
	VideoID                string
	ParentID               string
	Content                string
	Status                 CommentStatus
	ScheduledFor           *time.Time
	PostedAt               *time.Time
	ErrorMessage           string
	RetryCount             int
	ExternalID             string
	LastPreviousAccountID  *uuid.UUID
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// ViewSchedule is the simpler plan consumed by the View Scheduler (C11).
type ViewSchedule struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	Status          ScheduleStatus
	TargetVideos    []TargetVideo
	Interval        Interval
	Probability     int // 0-100
	AutoLike        bool
	MinWatchTime    int // seconds
	MaxWatchTime    int // seconds
	NextRunAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
