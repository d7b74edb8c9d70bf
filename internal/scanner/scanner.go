// Package scanner classifies attachments and URLs against a reputation service.
//
// Local filters run first and never touch the network: a dangerous extension
// yields a DangerousExtension verdict, a safe extension yields Clean, a known bad
// domain yields MaliciousDomain and an oversized file is Unscannable. Remaining
// subjects are looked up by hash (files) or URL id, submitted when unknown and
// polled under a bounded RetryPolicy. Verdicts are cached per subject with a TTL.
//
// Concurrent scans of the same subject are not deduplicated.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"kcl-antivirus/internal/config"
	"kcl-antivirus/internal/decision"
	"kcl-antivirus/internal/logging"
	"kcl-antivirus/internal/virustotal"
	"kcl-antivirus/pkg/util"
)

type Options struct {
	// Service may be nil: scanning then degrades to local filters
	Service Service
	Fetcher Fetcher
	Config  config.ScannerConfig

	// FileRetry and URLRetry override the policies derived from Config
	FileRetry *RetryPolicy
	URLRetry  *RetryPolicy

	Now func() time.Time
	// Observe is called for every finished scan
	Observe func(kind Kind, result Result)
}

type Scanner struct {
	service Service
	fetcher Fetcher
	now     func() time.Time
	observe func(Kind, Result)

	mu        sync.RWMutex
	cfg       config.ScannerConfig
	fileRetry RetryPolicy
	urlRetry  RetryPolicy
	overrides [2]bool

	fileCache *expirable.LRU[string, Verdict]
	urlCache  *expirable.LRU[string, Verdict]
}

func New(opts Options) *Scanner {
	s := &Scanner{
		service: opts.Service,
		fetcher: opts.Fetcher,
		now:     opts.Now,
		observe: opts.Observe,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.observe == nil {
		s.observe = func(Kind, Result) {}
	}

	s.cfg = opts.Config
	s.fileRetry = PolicyFromConfig(opts.Config.FileRetry)
	s.urlRetry = PolicyFromConfig(opts.Config.URLRetry)
	if opts.FileRetry != nil {
		s.fileRetry = *opts.FileRetry
		s.overrides[KindFile] = true
	}
	if opts.URLRetry != nil {
		s.urlRetry = *opts.URLRetry
		s.overrides[KindURL] = true
	}

	size := opts.Config.CacheSize
	if size <= 0 {
		size = 4096
	}
	s.fileCache = expirable.NewLRU[string, Verdict](size, nil, opts.Config.FileCacheTTL)
	s.urlCache = expirable.NewLRU[string, Verdict](size, nil, opts.Config.URLCacheTTL)

	return s
}

// Available reports whether reputation lookups are possible
func (s *Scanner) Available() bool {
	return s.service != nil
}

// UpdateConfig applies thresholds, filters and retry policy live. Cache sizes and TTLs keep their start values.
func (s *Scanner) UpdateConfig(cfg config.ScannerConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg = cfg
	if !s.overrides[KindFile] {
		s.fileRetry = PolicyFromConfig(cfg.FileRetry)
	}
	if !s.overrides[KindURL] {
		s.urlRetry = PolicyFromConfig(cfg.URLRetry)
	}
}

func (s *Scanner) snapshot() (config.ScannerConfig, RetryPolicy, RetryPolicy) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg, s.fileRetry, s.urlRetry
}

func thresholdsOf(cfg config.ScannerConfig) decision.Thresholds {
	return decision.Thresholds{
		Malicious:    cfg.MaliciousThreshold,
		Suspicious:   cfg.SuspiciousThreshold,
		HarmfulRatio: cfg.HarmfulRatio,
	}
}

// ScanAttachment applies the extension and size filters before downloading
func (s *Scanner) ScanAttachment(ctx context.Context, att Attachment) Result {
	cfg, _, _ := s.snapshot()

	if res, ok := s.extensionVerdict(cfg, att.Filename); ok {
		s.observe(KindFile, res)
		return res
	}

	if att.Size > cfg.MaxFileSize() {
		res := Result{Status: StatusUnscannable, Reason: fmt.Sprintf("file is %d bytes, cap is %d", att.Size, cfg.MaxFileSize())}
		s.observe(KindFile, res)
		return res
	}

	if s.service == nil {
		res := Result{Status: StatusSkipped, Reason: virustotal.ErrNoAPIKey.Error()}
		s.observe(KindFile, res)
		return res
	}

	if s.fetcher == nil {
		res := Result{Status: StatusInconclusive, Reason: "no attachment fetcher"}
		s.observe(KindFile, res)
		return res
	}

	content, err := s.fetcher.Fetch(ctx, att.URL)
	if err != nil {
		res := Result{Status: StatusInconclusive, Reason: err.Error()}
		if errors.Is(err, virustotal.ErrTooLarge) {
			res.Status = StatusUnscannable
		}
		logging.Warn("[SCANNER] Failed to fetch attachment %s: %v", att.Filename, err)
		s.observe(KindFile, res)
		return res
	}

	return s.ScanFile(ctx, att.Filename, content)
}

// ScanFile classifies file content
func (s *Scanner) ScanFile(ctx context.Context, filename string, content []byte) Result {
	res := s.scanFile(ctx, filename, content)
	s.observe(KindFile, res)
	return res
}

func (s *Scanner) scanFile(ctx context.Context, filename string, content []byte) Result {
	cfg, policy, _ := s.snapshot()

	if res, ok := s.extensionVerdict(cfg, filename); ok {
		return res
	}

	if int64(len(content)) > cfg.MaxFileSize() {
		return Result{Status: StatusUnscannable, Reason: "file exceeds size cap"}
	}

	if s.service == nil {
		return Result{Status: StatusSkipped, Reason: virustotal.ErrNoAPIKey.Error()}
	}

	hash := util.SHA256Hex(content)
	key := "file_" + hash
	if v, ok := s.cached(s.fileCache, key, cfg.FileCacheTTL); ok {
		return Result{Status: StatusVerdict, Verdict: &v, Cached: true}
	}

	stats, err := s.service.FileReport(ctx, hash)
	if errors.Is(err, virustotal.ErrNotFound) {
		var analysisID string
		analysisID, err = s.service.SubmitFile(ctx, filename, content)
		if err == nil {
			stats, err = s.poll(ctx, policy, analysisID)
		}
	}
	if err != nil {
		logging.Warn("[SCANNER] File scan of %s inconclusive: %v", filename, err)
		return Result{Status: StatusInconclusive, Reason: err.Error()}
	}

	v := Verdict{
		Subject:   hash,
		Kind:      KindFile,
		Stats:     stats,
		Level:     decision.Classify(stats, thresholdsOf(cfg)),
		Source:    SourceReputation,
		ScannedAt: s.now(),
	}
	s.fileCache.Add(key, v)
	return Result{Status: StatusVerdict, Verdict: &v}
}

// ScanURL classifies one URL
func (s *Scanner) ScanURL(ctx context.Context, rawURL string) Result {
	res := s.scanURL(ctx, rawURL)
	s.observe(KindURL, res)
	return res
}

func (s *Scanner) scanURL(ctx context.Context, rawURL string) Result {
	cfg, _, policy := s.snapshot()

	if host, bad := decision.MaliciousDomain(rawURL); bad {
		return Result{Status: StatusVerdict, Verdict: &Verdict{
			Subject:   rawURL,
			Kind:      KindURL,
			Stats:     decision.EngineStats{Malicious: 1},
			Level:     decision.ThreatMaliciousDomain,
			Source:    SourceDomain,
			ScannedAt: s.now(),
		}, Reason: "known malicious domain " + host}
	}

	if s.service == nil {
		return Result{Status: StatusSkipped, Reason: virustotal.ErrNoAPIKey.Error()}
	}

	key := "url_" + util.SHA256String(rawURL)
	if v, ok := s.cached(s.urlCache, key, cfg.URLCacheTTL); ok {
		return Result{Status: StatusVerdict, Verdict: &v, Cached: true}
	}

	stats, err := s.service.URLReport(ctx, rawURL)
	if errors.Is(err, virustotal.ErrNotFound) {
		var analysisID string
		analysisID, err = s.service.SubmitURL(ctx, rawURL)
		if err == nil {
			stats, err = s.poll(ctx, policy, analysisID)
		}
	}
	if err != nil {
		logging.Warn("[SCANNER] URL scan of %s inconclusive: %v", util.Truncate(rawURL, 100), err)
		return Result{Status: StatusInconclusive, Reason: err.Error()}
	}

	v := Verdict{
		Subject:   rawURL,
		Kind:      KindURL,
		Stats:     stats,
		Level:     decision.Classify(stats, thresholdsOf(cfg)),
		Source:    SourceReputation,
		ScannedAt: s.now(),
	}
	s.urlCache.Add(key, v)
	return Result{Status: StatusVerdict, Verdict: &v}
}

var errAnalysisPending = errors.New("analysis not completed within retry budget")

func (s *Scanner) poll(ctx context.Context, policy RetryPolicy, analysisID string) (decision.EngineStats, error) {
	var lastErr error = errAnalysisPending

	for attempt := 0; attempt < policy.Attempts; attempt++ {
		if err := policy.wait(ctx, attempt); err != nil {
			return decision.EngineStats{}, err
		}

		stats, done, err := s.service.Analysis(ctx, analysisID)
		if err != nil {
			lastErr = err
			continue
		}
		if done {
			return stats, nil
		}
		lastErr = errAnalysisPending
	}
	return decision.EngineStats{}, lastErr
}

func (s *Scanner) extensionVerdict(cfg config.ScannerConfig, filename string) (Result, bool) {
	switch {
	case decision.ExtensionIn(filename, cfg.DangerousExtensions):
		return Result{Status: StatusVerdict, Verdict: &Verdict{
			Subject:   filename,
			Kind:      KindFile,
			Stats:     decision.EngineStats{Malicious: 1},
			Level:     decision.ThreatDangerousExtension,
			Source:    SourceExtension,
			ScannedAt: s.now(),
		}}, true
	case decision.ExtensionIn(filename, cfg.SafeExtensions):
		return Result{Status: StatusVerdict, Verdict: &Verdict{
			Subject:   filename,
			Kind:      KindFile,
			Level:     decision.ThreatClean,
			Source:    SourceExtension,
			ScannedAt: s.now(),
		}}, true
	}
	return Result{}, false
}

func (s *Scanner) cached(cache *expirable.LRU[string, Verdict], key string, ttl time.Duration) (Verdict, bool) {
	v, ok := cache.Get(key)
	if !ok {
		return Verdict{}, false
	}
	if ttl > 0 && s.now().Sub(v.ScannedAt) >= ttl {
		cache.Remove(key)
		return Verdict{}, false
	}
	return v, true
}

// Purge drops cached verdicts older than their TTL and returns how many were removed
func (s *Scanner) Purge() int {
	cfg, _, _ := s.snapshot()
	return s.purge(s.fileCache, cfg.FileCacheTTL) + s.purge(s.urlCache, cfg.URLCacheTTL)
}

func (s *Scanner) purge(cache *expirable.LRU[string, Verdict], ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	removed := 0
	now := s.now()
	for _, key := range cache.Keys() {
		if v, ok := cache.Peek(key); ok && now.Sub(v.ScannedAt) >= ttl {
			cache.Remove(key)
			removed++
		}
	}
	return removed
}

// CacheSizes returns the number of cached file and URL verdicts
func (s *Scanner) CacheSizes() (files, urls int) {
	return s.fileCache.Len(), s.urlCache.Len()
}
