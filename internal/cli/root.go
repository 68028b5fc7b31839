// Package cmd implements the warcling command-line surface: a flat set of
// wget-style flags translated into a config.Config via the builder in
// internal/config.
package cmd

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rohmanhakim/warcling/internal/config"
	"github.com/spf13/cobra"
)

var (
	cfgFile string

	// scope
	recursive           bool
	level               int
	pageRequisites      bool
	pageRequisitesLevel int
	spanHosts           bool
	spanHostsAllow      string
	domains             []string
	excludeDomains      []string
	hostnames           []string
	excludeHostnames    []string
	accept              []string
	reject              []string
	acceptRegex         string
	rejectRegex         string
	includeDirectories  []string
	excludeDirectories  []string
	noParent            bool
	sitemaps            bool
	followFTP           bool
	quota               int64

	// timing
	wait           time.Duration
	randomWait     bool
	waitRetry      time.Duration
	dnsTimeout     time.Duration
	connectTimeout time.Duration
	readTimeout    time.Duration
	sessionTimeout time.Duration
	limitRate      int64

	// retries
	tries            int
	retryConnRefused bool
	retryDNSError    bool
	maxRedirect      int

	// I/O
	directoryPrefix    string
	noDirectories      bool
	forceDirectories   bool
	noHostDirectories  bool
	protocolDirectories bool
	cutDirs            int
	restrictFileNames  []string
	maxFilenameLength  int
	noClobber          bool
	continueDownload   bool
	timestamping       bool
	deleteAfter        bool
	outputDocument     string

	// recording
	warcFile          string
	warcAppend        bool
	warcMaxSize       int64
	warcDedup         bool
	noWARCCompression bool
	noWARCDigests     bool
	warcCDX           bool
	warcTempDir       string
	warcMove          string

	// protocol
	userAgent          string
	headers            []string
	referer            string
	postData           string
	postFile           string
	noHTTPKeepAlive    bool
	httpCompression    bool
	noCookies          bool
	loadCookies        string
	saveCookies        string
	keepSessionCookies bool

	// TLS
	secureProtocol     string
	httpsOnly          bool
	noCheckCertificate bool
	certificate        string
	privateKey         string
	caCertificate      string
	caDirectory        string

	// database
	database    string
	databaseURI string

	// misc
	concurrency int
	randomSeed  int64
	dryRun      bool
	metricsAddr string

	seedURLs []string
)

func parseSeedURLs(urlStrings []string) ([]url.URL, error) {
	if len(urlStrings) == 0 {
		return nil, fmt.Errorf("seed URLs cannot be empty")
	}

	var urls []url.URL
	for _, urlStr := range urlStrings {
		parsedURL, err := url.Parse(urlStr)
		if err != nil {
			return nil, fmt.Errorf("error parsing seed URL %s: %w", urlStr, err)
		}
		urls = append(urls, *parsedURL)
	}
	return urls, nil
}

func parseHeaders(raw []string) map[string]string {
	out := make(map[string]string, len(raw))
	for _, h := range raw {
		name, value, found := strings.Cut(h, ":")
		if !found {
			continue
		}
		out[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return out
}

var rootCmd = &cobra.Command{
	Use:   "warcling [seed URL]...",
	Short: "A Wget-compatible recursive web archiver.",
	Long: `warcling crawls one or more seed URLs, following links within the
configured scope, recording every HTTP exchange into a WARC file and
materializing fetched documents under an output directory. Crawls are
resumable: the frontier is a durable database, and an interrupted run
restarts from wherever it left off.`,
	Args: cobra.ArbitraryArgs,
	Run: func(cmd *cobra.Command, args []string) {
		allSeeds := append(append([]string{}, args...), seedURLs...)
		if len(allSeeds) == 0 {
			fmt.Fprintln(os.Stderr, "Error: at least one seed URL is required.")
			cmd.Usage()
			os.Exit(2)
		}

		parsedURLs, err := parseSeedURLs(allSeeds)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(2)
		}

		cfg := InitConfig(parsedURLs)
		os.Exit(RunCrawl(cmd.Context(), cfg))
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	f := rootCmd.PersistentFlags()

	f.StringVar(&cfgFile, "config-file", "", "config file path (JSON)")
	f.StringArrayVar(&seedURLs, "seed-url", []string{}, "one or more starting URLs (can be repeated; positional args also work)")

	f.BoolVarP(&recursive, "recursive", "r", false, "turn on recursive crawling")
	f.IntVarP(&level, "level", "l", 0, "maximum recursion depth (0 = builder default)")
	f.BoolVarP(&pageRequisites, "page-requisites", "p", false, "download images/stylesheets/scripts needed to render the page")
	f.IntVar(&pageRequisitesLevel, "page-requisites-level", 0, "separate recursion budget for page requisites")
	f.BoolVar(&spanHosts, "span-hosts", false, "follow links to other hosts")
	f.StringVar(&spanHostsAllow, "span-hosts-allow", "", "restrict spanning to: linked-pages, page-requisites")
	f.StringArrayVar(&domains, "domains", []string{}, "comma/flag-separated list of accepted domains")
	f.StringArrayVar(&excludeDomains, "exclude-domains", []string{}, "list of rejected domains")
	f.StringArrayVar(&hostnames, "hostnames", []string{}, "list of accepted hostnames")
	f.StringArrayVar(&excludeHostnames, "exclude-hostnames", []string{}, "list of rejected hostnames")
	f.StringArrayVar(&accept, "accept", []string{}, "accept suffix/pattern list")
	f.StringArrayVar(&reject, "reject", []string{}, "reject suffix/pattern list")
	f.StringVar(&acceptRegex, "accept-regex", "", "accept URLs matching this regex")
	f.StringVar(&rejectRegex, "reject-regex", "", "reject URLs matching this regex")
	f.StringArrayVar(&includeDirectories, "include-directories", []string{}, "list of path prefixes to admit")
	f.StringArrayVar(&excludeDirectories, "exclude-directories", []string{}, "list of path prefixes to reject")
	f.BoolVar(&noParent, "no-parent", false, "never ascend to the parent directory")
	f.BoolVar(&sitemaps, "sitemaps", false, "seed additional URLs by parsing sitemap.xml")
	f.BoolVar(&followFTP, "follow-ftp", false, "follow ftp:// links found on http(s) pages")
	f.Int64Var(&quota, "quota", 0, "stop once this many bytes have been downloaded (0 = unlimited)")

	f.DurationVar(&wait, "wait", 0, "wait this long between requests to the same host")
	f.BoolVar(&randomWait, "random-wait", false, "randomize wait between 0.5x and 1.5x --wait")
	f.DurationVar(&waitRetry, "waitretry", 0, "cap for exponential backoff between retries")
	f.DurationVar(&dnsTimeout, "dns-timeout", 0, "DNS resolution timeout")
	f.DurationVar(&connectTimeout, "connect-timeout", 0, "TCP connect timeout")
	f.DurationVar(&readTimeout, "read-timeout", 0, "socket read timeout")
	f.DurationVar(&sessionTimeout, "session-timeout", 0, "whole-request timeout")
	f.Int64Var(&limitRate, "limit-rate", 0, "cap download bandwidth in bytes/sec (0 = unlimited)")

	f.IntVar(&tries, "tries", 0, "number of retries per URL (0 = builder default)")
	f.BoolVar(&retryConnRefused, "retry-connrefused", false, "treat connection-refused as retryable")
	f.BoolVar(&retryDNSError, "retry-dns-error", false, "treat DNS failures as retryable")
	f.IntVar(&maxRedirect, "max-redirect", 0, "maximum redirect hops per logical request (0 = builder default)")

	f.StringVarP(&directoryPrefix, "directory-prefix", "P", "", "root output directory")
	f.BoolVar(&noDirectories, "no-directories", false, "don't create a hierarchy of directories")
	f.BoolVar(&forceDirectories, "force-directories", false, "always create a hierarchy of directories")
	f.BoolVar(&noHostDirectories, "no-host-directories", false, "don't create host-named directories")
	f.BoolVar(&protocolDirectories, "protocol-directories", false, "use scheme name as the top-level directory")
	f.IntVar(&cutDirs, "cut-dirs", 0, "ignore N leading path components when saving")
	f.StringArrayVar(&restrictFileNames, "restrict-file-names", []string{}, "modes: ascii, lower, upper, nocontrol, unix, windows")
	f.IntVar(&maxFilenameLength, "max-filename-length", 0, "max filename length (0 = builder default)")
	f.BoolVar(&noClobber, "no-clobber", false, "never overwrite an existing file; suffix instead")
	f.BoolVar(&continueDownload, "continue", false, "resume a partially-downloaded file with a Range request")
	f.BoolVar(&timestamping, "timestamping", false, "skip download if local file is newer than the server's")
	f.BoolVar(&deleteAfter, "delete-after", false, "delete each file right after it is saved")
	f.StringVarP(&outputDocument, "output-document", "O", "", "write all output to a single file")

	f.StringVar(&warcFile, "warc-file", "", "WARC output file name prefix (empty disables WARC recording)")
	f.BoolVar(&warcAppend, "warc-append", false, "append to an existing WARC file instead of rotating")
	f.Int64Var(&warcMaxSize, "warc-max-size", 0, "rotate to a new WARC file after this many bytes (0 = unlimited)")
	f.BoolVar(&warcDedup, "warc-dedup", true, "emit revisit records for previously seen payload digests")
	f.BoolVar(&noWARCCompression, "no-warc-compression", false, "disable per-record gzip compression")
	f.BoolVar(&noWARCDigests, "no-warc-digests", false, "disable payload/block digest computation")
	f.BoolVar(&warcCDX, "warc-cdx", false, "also write a CDX index alongside the WARC file")
	f.StringVar(&warcTempDir, "warc-tempdir", "", "directory for spilled response bodies")
	f.StringVar(&warcMove, "warc-move", "", "move completed WARC files into this directory")

	f.StringVarP(&userAgent, "user-agent", "U", "", "User-Agent header value")
	f.StringArrayVar(&headers, "header", []string{}, "extra request header as Name: Value")
	f.StringVar(&referer, "referer", "", "Referer header value")
	f.StringVar(&postData, "post-data", "", "send this string as the POST body")
	f.StringVar(&postFile, "post-file", "", "send this file's contents as the POST body")
	f.BoolVar(&noHTTPKeepAlive, "no-http-keep-alive", false, "disable HTTP keep-alive")
	f.BoolVar(&httpCompression, "http-compression", false, "request compressed responses")
	f.BoolVar(&noCookies, "no-cookies", false, "disable the cookie jar entirely")
	f.StringVar(&loadCookies, "load-cookies", "", "load cookies from this cookies.txt file")
	f.StringVar(&saveCookies, "save-cookies", "", "save cookies to this cookies.txt file on exit")
	f.BoolVar(&keepSessionCookies, "keep-session-cookies", false, "persist session cookies too")

	f.StringVar(&secureProtocol, "secure-protocol", "", "TLS protocol: auto, TLSv1_2, TLSv1_3")
	f.BoolVar(&httpsOnly, "https-only", false, "only follow https:// links")
	f.BoolVar(&noCheckCertificate, "no-check-certificate", false, "disable TLS certificate verification")
	f.StringVar(&certificate, "certificate", "", "client certificate file")
	f.StringVar(&privateKey, "private-key", "", "client private key file")
	f.StringVar(&caCertificate, "ca-certificate", "", "CA bundle file")
	f.StringVar(&caDirectory, "ca-directory", "", "CA bundle directory")

	f.StringVar(&database, "database", "", "frontier database file path")
	f.StringVar(&databaseURI, "database-uri", "", "frontier database connection URI")

	f.IntVarP(&concurrency, "concurrent", "c", 0, "number of concurrent in-flight fetches")
	f.Int64Var(&randomSeed, "random-seed", 0, "seed for jitter/backoff RNG (0 = time-based)")
	f.BoolVar(&dryRun, "dry-run", false, "crawl without writing output or WARC records")
	f.StringVar(&metricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address")
}

// InitConfig reads flags/config file into a config.Config, exiting the
// process with a parse-error status on failure.
func InitConfig(seedUrls []url.URL) config.Config {
	cfg, err := InitConfigWithError(seedUrls)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(2)
	}
	return cfg
}

// InitConfigWithError is InitConfig without the exit call, for tests.
func InitConfigWithError(seedUrls []url.URL) (config.Config, error) {
	if len(seedUrls) == 0 {
		return config.Config{}, fmt.Errorf("%w: seedUrls cannot be empty", config.ErrInvalidConfig)
	}

	if cfgFile != "" {
		cfg, err := config.WithConfigFile(cfgFile)
		if err != nil {
			return cfg, fmt.Errorf("error initializing config from file: %w", err)
		}
		return cfg, nil
	}

	builder := config.WithDefault(seedUrls)

	builder = builder.WithScope(config.ScopePolicy{
		Recursive:           recursive,
		Level:               orDefault(level, 5),
		PageRequisites:      pageRequisites,
		PageRequisitesLevel: pageRequisitesLevel,
		SpanHosts:           spanHosts,
		SpanHostsAllow:      spanHostsAllow,
		Domains:             domains,
		ExcludeDomains:      excludeDomains,
		Hostnames:           hostnames,
		ExcludeHostnames:    excludeHostnames,
		Accept:              accept,
		Reject:              reject,
		AcceptRegex:         acceptRegex,
		RejectRegex:         rejectRegex,
		IncludeDirectories:  includeDirectories,
		ExcludeDirectories:  excludeDirectories,
		NoParent:            noParent,
		Sitemaps:            sitemaps,
		FollowFTP:           followFTP,
		HTTPSOnly:           httpsOnly,
		QuotaBytes:          quota,
	})

	builder = builder.WithTiming(config.TimingPolicy{
		Wait:           wait,
		RandomWait:     randomWait,
		WaitRetry:      orDurationDefault(waitRetry, 10*time.Second),
		DNSTimeout:     orDurationDefault(dnsTimeout, 5*time.Second),
		ConnectTimeout: orDurationDefault(connectTimeout, 10*time.Second),
		ReadTimeout:    orDurationDefault(readTimeout, 30*time.Second),
		SessionTimeout: sessionTimeout,
		LimitRateBytes: limitRate,
	})

	builder = builder.WithRetry(config.RetryPolicy{
		Tries:            orDefault(tries, 20),
		RetryConnRefused: retryConnRefused,
		RetryDNSError:    retryDNSError,
		BackoffInitial:   time.Second,
		BackoffMult:      2.0,
		BackoffMax:       30 * time.Second,
		Jitter:           500 * time.Millisecond,
		MaxRedirect:      orDefault(maxRedirect, 20),
	})

	builder = builder.WithIO(config.IOPolicy{
		DirectoryPrefix:     orStringDefault(directoryPrefix, "crawl"),
		NoDirectories:       noDirectories,
		ForceDirectories:    forceDirectories,
		NoHostDirectories:   noHostDirectories,
		ProtocolDirectories: protocolDirectories,
		CutDirs:             cutDirs,
		RestrictFileNames:   restrictFileNames,
		MaxFilenameLength:   orDefault(maxFilenameLength, 160),
		NoClobber:           noClobber,
		Continue:            continueDownload,
		Timestamping:        timestamping,
		DeleteAfter:         deleteAfter,
		OutputDocument:      outputDocument,
	})

	builder = builder.WithRecording(config.RecordingPolicy{
		WARCFile:          warcFile,
		WARCAppend:        warcAppend,
		WARCMaxSizeBytes:  warcMaxSize,
		WARCDedup:         warcDedup,
		NoWARCCompression: noWARCCompression,
		NoWARCDigests:     noWARCDigests,
		WARCCDX:           warcCDX,
		WARCTempDir:       warcTempDir,
		WARCMove:          warcMove,
	})

	builder = builder.WithProtocol(config.ProtocolPolicy{
		UserAgent:          orStringDefault(userAgent, "warcling/1.0"),
		Headers:            parseHeaders(headers),
		Referer:            referer,
		PostData:           postData,
		PostFile:           postFile,
		NoHTTPKeepAlive:    noHTTPKeepAlive,
		HTTPCompression:    httpCompression,
		NoCookies:          noCookies,
		LoadCookies:        loadCookies,
		SaveCookies:        saveCookies,
		KeepSessionCookies: keepSessionCookies,
	})

	builder = builder.WithTLS(config.TLSPolicy{
		SecureProtocol:     orStringDefault(secureProtocol, "auto"),
		HTTPSOnly:          httpsOnly,
		NoCheckCertificate: noCheckCertificate,
		Certificate:        certificate,
		PrivateKey:         privateKey,
		CACertificate:      caCertificate,
		CADirectory:        caDirectory,
	})

	builder = builder.WithDB(config.DBPolicy{
		DatabasePath: orStringDefault(database, "frontier.db"),
		DatabaseURI:  databaseURI,
	})

	if concurrency > 0 {
		builder = builder.WithConcurrency(concurrency)
	}
	if randomSeed != 0 {
		builder = builder.WithRandomSeed(randomSeed)
	}
	builder = builder.WithDryRun(dryRun)
	builder = builder.WithMetricsAddr(metricsAddr)

	return builder.Build()
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func orStringDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func orDurationDefault(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}

// ResetFlags restores every package-level flag var to its registered default
// (the zero value, except warcDedup, which defaults to true), for test
// isolation between cases that exercise InitConfigWithError.
func ResetFlags() {
	cfgFile = ""
	seedURLs = []string{}

	recursive, level, pageRequisites, pageRequisitesLevel = false, 0, false, 0
	spanHosts, spanHostsAllow = false, ""
	domains, excludeDomains, hostnames, excludeHostnames = nil, nil, nil, nil
	accept, reject, acceptRegex, rejectRegex = nil, nil, "", ""
	includeDirectories, excludeDirectories = nil, nil
	noParent, sitemaps = false, false
	followFTP, quota = false, 0

	wait, randomWait, waitRetry = 0, false, 0
	dnsTimeout, connectTimeout, readTimeout, sessionTimeout = 0, 0, 0, 0
	limitRate = 0

	tries, retryConnRefused, retryDNSError = 0, false, false
	maxRedirect = 0

	directoryPrefix = ""
	noDirectories, forceDirectories, noHostDirectories, protocolDirectories = false, false, false, false
	cutDirs = 0
	restrictFileNames = nil
	maxFilenameLength = 0
	noClobber, continueDownload, timestamping, deleteAfter = false, false, false, false
	outputDocument = ""

	warcFile = ""
	warcAppend = false
	warcMaxSize = 0
	warcDedup = true
	noWARCCompression, noWARCDigests, warcCDX = false, false, false
	warcTempDir, warcMove = "", ""

	userAgent = ""
	headers = nil
	referer, postData, postFile = "", "", ""
	noHTTPKeepAlive, httpCompression = false, false
	noCookies = false
	loadCookies, saveCookies = "", ""
	keepSessionCookies = false

	secureProtocol = ""
	httpsOnly, noCheckCertificate = false, false
	certificate, privateKey, caCertificate, caDirectory = "", "", "", ""

	database, databaseURI = "", ""

	concurrency = 0
	randomSeed = 0
	dryRun = false
	metricsAddr = ""
}

func SetConfigFileForTest(path string)   { cfgFile = path }
func SetSeedURLsForTest(urls []string)   { seedURLs = urls }
func SetRecursiveForTest(v bool)         { recursive = v }
func SetLevelForTest(v int)              { level = v }
func SetConcurrencyForTest(v int)        { concurrency = v }
func SetDirectoryPrefixForTest(v string) { directoryPrefix = v }
func SetDryRunForTest(v bool)            { dryRun = v }
func SetUserAgentForTest(v string)       { userAgent = v }
func SetWaitForTest(v time.Duration)     { wait = v }
func SetRandomSeedForTest(v int64)       { randomSeed = v }
func SetWARCFileForTest(v string)        { warcFile = v }
func SetDomainsForTest(v []string)       { domains = v }
func SetSpanHostsForTest(v bool)         { spanHosts = v }
func SetTriesForTest(v int)              { tries = v }
