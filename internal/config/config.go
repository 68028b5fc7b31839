package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"reflect"
	"time"
)

func defaultRandomSeed() int64 {
	return time.Now().UnixNano()
}

type Config struct {
	//===============
	//  Crawl scope
	//===============
	// Initial pages to give to the crawler to begin discovering and traversing other pages.
	seedURLs []url.URL
	scope    ScopePolicy

	//===============
	// Politeness & retries
	//===============
	timing TimingPolicy
	retry  RetryPolicy
	// Maximum number of crawl worker goroutines processing URLs concurrently;
	// it does not control OS threads or CPU parallelism.
	concurrency int
	// Controls the random number generator backing jitter and retry backoff.
	randomSeed int64

	//===============
	// Disk output
	//===============
	io IOPolicy

	//===============
	// WARC recording
	//===============
	recording RecordingPolicy

	//===============
	// Wire protocol
	//===============
	protocol ProtocolPolicy
	tls      TLSPolicy

	//===============
	// Frontier store
	//===============
	db DBPolicy

	//===============
	// Misc
	//===============
	dryRun      bool
	metricsAddr string
}

type configDTO struct {
	SeedURLs    []url.URL       `json:"seedUrls"`
	Scope       ScopePolicy     `json:"scope,omitempty"`
	Timing      TimingPolicy    `json:"timing,omitempty"`
	Retry       RetryPolicy     `json:"retry,omitempty"`
	Concurrency int             `json:"concurrency,omitempty"`
	RandomSeed  int64           `json:"randomSeed,omitempty"`
	IO          IOPolicy        `json:"io,omitempty"`
	Recording   RecordingPolicy `json:"recording,omitempty"`
	Protocol    ProtocolPolicy  `json:"protocol,omitempty"`
	TLS         TLSPolicy       `json:"tls,omitempty"`
	DB          DBPolicy        `json:"db,omitempty"`
	DryRun      bool            `json:"dryRun,omitempty"`
	MetricsAddr string          `json:"metricsAddr,omitempty"`
}

func newConfigFromDTO(dto configDTO) (Config, error) {
	cfg, err := WithDefault(dto.SeedURLs).Build()
	if err != nil {
		return Config{}, err
	}

	// Policy groups are only overridden wholesale when the config file sets
	// them: Scope, Timing and Retry when at least one of their fields is set,
	// the other groups when one of the key fields checked below is set. A
	// zero-value policy in the DTO means "use the builder default" rather
	// than "wipe the group to zero values".
	if !reflect.DeepEqual(dto.Scope, ScopePolicy{}) {
		cfg.scope = dto.Scope
	}
	if (dto.Timing != TimingPolicy{}) {
		cfg.timing = dto.Timing
	}
	if (dto.Retry != RetryPolicy{}) {
		cfg.retry = dto.Retry
	}
	if dto.Concurrency != 0 {
		cfg.concurrency = dto.Concurrency
	}
	if dto.RandomSeed != 0 {
		cfg.randomSeed = dto.RandomSeed
	}
	if dto.IO.DirectoryPrefix != "" || dto.IO.MaxFilenameLength != 0 {
		cfg.io = dto.IO
	}
	if dto.Recording.WARCFile != "" {
		cfg.recording = dto.Recording
	}
	if dto.Protocol.UserAgent != "" {
		cfg.protocol = dto.Protocol
	}
	if dto.TLS.SecureProtocol != "" {
		cfg.tls = dto.TLS
	}
	if dto.DB.DatabasePath != "" || dto.DB.DatabaseURI != "" {
		cfg.db = dto.DB
	}
	cfg.dryRun = dto.DryRun
	if dto.MetricsAddr != "" {
		cfg.metricsAddr = dto.MetricsAddr
	}

	return cfg, nil
}

func WithConfigFile(path string) (Config, error) {
	_, err := os.Stat(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrFileDoesNotExist, err.Error())
	}
	configContent, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrReadConfigFail, err.Error())
	}
	cfgDTO := configDTO{}

	err = json.Unmarshal(configContent, &cfgDTO)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrConfigParsingFail, err.Error())
	}

	cfg, err := newConfigFromDTO(cfgDTO)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// WithDefault creates a new Config with the provided seed URLs and default values for all other fields.
// seedUrls is mandatory and must not be empty - an error will be returned if it is.
func WithDefault(seedUrls []url.URL) *Config {
	defaultConfig := Config{
		seedURLs:    seedUrls,
		scope:       defaultScopePolicy(),
		timing:      defaultTimingPolicy(),
		retry:       defaultRetryPolicy(),
		concurrency: 10,
		randomSeed:  0,
		io:          defaultIOPolicy(),
		recording:   defaultRecordingPolicy(),
		protocol:    defaultProtocolPolicy(),
		tls:         defaultTLSPolicy(),
		db:          defaultDBPolicy(),
		dryRun:      false,
	}
	return &defaultConfig
}

func (c *Config) WithSeedUrls(urls []url.URL) *Config {
	c.seedURLs = urls
	return c
}

func (c *Config) WithScope(scope ScopePolicy) *Config {
	c.scope = scope
	return c
}

func (c *Config) WithTiming(timing TimingPolicy) *Config {
	c.timing = timing
	return c
}

func (c *Config) WithRetry(retry RetryPolicy) *Config {
	c.retry = retry
	return c
}

func (c *Config) WithConcurrency(concurrency int) *Config {
	c.concurrency = concurrency
	return c
}

func (c *Config) WithRandomSeed(seed int64) *Config {
	c.randomSeed = seed
	return c
}

func (c *Config) WithIO(io IOPolicy) *Config {
	c.io = io
	return c
}

func (c *Config) WithRecording(recording RecordingPolicy) *Config {
	c.recording = recording
	return c
}

func (c *Config) WithProtocol(protocol ProtocolPolicy) *Config {
	c.protocol = protocol
	return c
}

func (c *Config) WithTLS(tls TLSPolicy) *Config {
	c.tls = tls
	return c
}

func (c *Config) WithDB(db DBPolicy) *Config {
	c.db = db
	return c
}

func (c *Config) WithDryRun(dryRun bool) *Config {
	c.dryRun = dryRun
	return c
}

func (c *Config) WithMetricsAddr(addr string) *Config {
	c.metricsAddr = addr
	return c
}

func (c *Config) Build() (Config, error) {
	if len(c.seedURLs) == 0 {
		return Config{}, fmt.Errorf("%w: seedUrls cannot be empty", ErrInvalidConfig)
	}

	// When span-hosts is off and no explicit domain scope was given, restrict
	// recursion to the seeds' own hostnames.
	if !c.scope.SpanHosts && len(c.scope.Domains) == 0 {
		seen := map[string]struct{}{}
		for _, u := range c.seedURLs {
			if u.Host == "" {
				continue
			}
			if _, ok := seen[u.Host]; ok {
				continue
			}
			seen[u.Host] = struct{}{}
			c.scope.Hostnames = append(c.scope.Hostnames, u.Host)
		}
	}

	if c.randomSeed == 0 {
		c.randomSeed = defaultRandomSeed()
	}

	return *c, nil
}

func (c Config) SeedURLs() []url.URL {
	urls := make([]url.URL, len(c.seedURLs))
	copy(urls, c.seedURLs)
	return urls
}

func (c Config) Scope() ScopePolicy           { return c.scope }
func (c Config) Timing() TimingPolicy         { return c.timing }
func (c Config) Retry() RetryPolicy           { return c.retry }
func (c Config) Concurrency() int             { return c.concurrency }
func (c Config) RandomSeed() int64            { return c.randomSeed }
func (c Config) IO() IOPolicy                 { return c.io }
func (c Config) Recording() RecordingPolicy   { return c.recording }
func (c Config) Protocol() ProtocolPolicy     { return c.protocol }
func (c Config) TLS() TLSPolicy               { return c.tls }
func (c Config) DB() DBPolicy                 { return c.db }
func (c Config) DryRun() bool                 { return c.dryRun }
func (c Config) MetricsAddr() string          { return c.metricsAddr }
