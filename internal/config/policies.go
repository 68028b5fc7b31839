package config

import "time"

// ScopePolicy controls which discovered URLs are eligible for recursion.
type ScopePolicy struct {
	Recursive           bool
	Level               int
	PageRequisites      bool
	PageRequisitesLevel int
	SpanHosts           bool
	SpanHostsAllow      string // "", "linked-pages", "page-requisites"
	Domains             []string
	ExcludeDomains      []string
	Hostnames           []string
	ExcludeHostnames    []string
	Accept              []string
	Reject              []string
	AcceptRegex         string
	RejectRegex         string
	IncludeDirectories  []string
	ExcludeDirectories  []string
	NoParent            bool
	Sitemaps            bool
	FollowFTP           bool
	HTTPSOnly           bool
	QuotaBytes          int64
}

func defaultScopePolicy() ScopePolicy {
	return ScopePolicy{
		Recursive:           false,
		Level:               5,
		PageRequisites:      false,
		PageRequisitesLevel: 0,
		SpanHosts:           false,
	}
}

// TimingPolicy controls per-host pacing and protocol timeouts.
type TimingPolicy struct {
	Wait           time.Duration
	RandomWait     bool
	WaitRetry      time.Duration
	DNSTimeout     time.Duration
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	SessionTimeout time.Duration
	LimitRateBytes int64 // 0 = unlimited
}

func defaultTimingPolicy() TimingPolicy {
	return TimingPolicy{
		Wait:           0,
		WaitRetry:      10 * time.Second,
		DNSTimeout:     5 * time.Second,
		ConnectTimeout: 10 * time.Second,
		ReadTimeout:    30 * time.Second,
		SessionTimeout: 0,
	}
}

// RetryPolicy controls how many times a failed fetch is retried and which
// transient causes qualify.
type RetryPolicy struct {
	Tries            int
	RetryConnRefused bool
	RetryDNSError    bool
	BackoffInitial   time.Duration
	BackoffMult      float64
	BackoffMax       time.Duration
	Jitter           time.Duration
	MaxRedirect      int
}

func defaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Tries:            20,
		RetryConnRefused: false,
		RetryDNSError:    false,
		BackoffInitial:   1 * time.Second,
		BackoffMult:      2.0,
		BackoffMax:       30 * time.Second,
		Jitter:           500 * time.Millisecond,
		MaxRedirect:      20,
	}
}

// IOPolicy controls on-disk materialization of fetched documents.
type IOPolicy struct {
	DirectoryPrefix    string
	NoDirectories      bool
	ForceDirectories   bool
	NoHostDirectories  bool
	ProtocolDirectories bool
	CutDirs            int
	RestrictFileNames  []string // ascii, lower, upper, nocontrol, unix, windows
	MaxFilenameLength  int
	NoClobber          bool
	Continue           bool
	Timestamping       bool
	DeleteAfter        bool
	OutputDocument     string
}

func defaultIOPolicy() IOPolicy {
	return IOPolicy{
		DirectoryPrefix:   "crawl",
		MaxFilenameLength: 160,
	}
}

// RecordingPolicy controls WARC output.
type RecordingPolicy struct {
	WARCFile           string
	WARCAppend         bool
	WARCMaxSizeBytes   int64
	WARCDedup          bool
	WARCCDX            bool
	NoWARCCompression  bool
	NoWARCDigests      bool
	WARCTempDir        string
	WARCMove           string
	WARCHeaderFields   map[string]string
}

func defaultRecordingPolicy() RecordingPolicy {
	return RecordingPolicy{
		WARCDedup: true,
		WARCCDX:   false,
	}
}

// ProtocolPolicy controls HTTP request construction.
type ProtocolPolicy struct {
	UserAgent          string
	Headers            map[string]string
	Referer            string
	PostData           string
	PostFile           string
	NoHTTPKeepAlive    bool
	HTTPCompression    bool
	NoCookies          bool
	LoadCookies        string
	SaveCookies        string
	KeepSessionCookies bool
}

func defaultProtocolPolicy() ProtocolPolicy {
	return ProtocolPolicy{
		UserAgent: "warcling/1.0",
	}
}

// TLSPolicy controls certificate verification and client identity.
type TLSPolicy struct {
	SecureProtocol     string // auto, SSLv3, TLSv1, TLSv1_1, TLSv1_2, TLSv1_3
	HTTPSOnly          bool
	NoCheckCertificate bool
	Certificate        string
	PrivateKey         string
	CACertificate      string
	CADirectory        string
}

func defaultTLSPolicy() TLSPolicy {
	return TLSPolicy{SecureProtocol: "auto"}
}

// DBPolicy selects the frontier's durable store.
type DBPolicy struct {
	DatabasePath string
	DatabaseURI  string
}

func defaultDBPolicy() DBPolicy {
	return DBPolicy{DatabasePath: "frontier.db"}
}
