package slices

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/tensorplex-labs/templar/internal/indices"
	"github.com/tensorplex-labs/templar/internal/model"
	"github.com/tensorplex-labs/templar/internal/participants"
	"github.com/tensorplex-labs/templar/internal/utils/fsutil"
)

func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Remote == nil {
		return nil, errors.New("slice store requires a remote")
	}
	if cfg.Verifier == nil {
		return nil, errors.New("slice store requires a verifier")
	}
	if cfg.CacheDir == "" {
		return nil, errors.New("slice store requires a cache directory")
	}
	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	timeout := cfg.EndpointTimeout
	if timeout <= 0 {
		timeout = DefaultEndpointTimeout
	}
	return &Store{
		remote:   cfg.Remote,
		signer:   cfg.Signer,
		verifier: cfg.Verifier,
		cacheDir: cfg.CacheDir,
		own:      strings.TrimRight(cfg.OwnEndpoint, "/"),
		timeout:  timeout,
	}, nil
}

// Producer is the hotkey this store signs uploads with.
func (s *Store) Producer() string {
	if s.signer == nil {
		return ""
	}
	return s.signer.Hotkey()
}

func (s *Store) cachePath(key string) string {
	return filepath.Join(s.cacheDir, key)
}

// Upload signs the selected coordinates of params, caches the envelope locally
// and publishes it to the store's own endpoint.
func (s *Store) Upload(ctx context.Context, kind ArtifactKind, window, globalStep int, params map[string]*model.Tensor, sel indices.Selection) (*Slice, error) {
	if s.signer == nil {
		return nil, errors.New("slice store has no signer")
	}
	slice, err := Build(kind, window, s.signer.Hotkey(), globalStep, params, sel)
	if err != nil {
		return nil, err
	}
	data, err := Encode(slice, s.signer)
	if err != nil {
		return nil, err
	}

	key := slice.Key()
	if err := fsutil.WriteFileAtomic(s.cachePath(key), data, 0o644); err != nil {
		return nil, fmt.Errorf("cache %s: %w", key, err)
	}
	if s.own == "" {
		return nil, fmt.Errorf("%w: no own endpoint configured", ErrEndpointUnreachable)
	}

	putCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.remote.Put(putCtx, s.own, key, data); err != nil {
		return nil, fmt.Errorf("upload %s: %w", key, err)
	}

	log.Debug().
		Str("key", key).
		Int("window", window).
		Int("bytes", len(data)).
		Msg("uploaded slice")
	return slice, nil
}

type fetchTask struct {
	endpoint string
	window   int
}

type fetchOutcome struct {
	window   int
	slices   []*Slice
	failures []FetchFailure
}

// Download retrieves every kind slice for windows from all resolved endpoints.
// Each (endpoint, window) fetch runs concurrently under its own timeout;
// failures are reported in the result and never fail the call.
func (s *Store) Download(ctx context.Context, kind ArtifactKind, windows []int, endpoints []participants.Endpoint) DownloadResult {
	result := DownloadResult{Slices: make(map[int][]*Slice, len(windows))}

	var tasks []fetchTask
	seen := make(map[string]struct{}, len(endpoints))
	for _, e := range endpoints {
		url, ok := e.Location()
		if !ok {
			continue
		}
		url = strings.TrimRight(url, "/")
		if _, dup := seen[url]; dup {
			continue
		}
		seen[url] = struct{}{}
		for _, w := range windows {
			tasks = append(tasks, fetchTask{endpoint: url, window: w})
		}
	}

	outcomes := make(chan fetchOutcome, len(tasks))
	var wg sync.WaitGroup
	for _, t := range tasks {
		wg.Add(1)
		go func(t fetchTask) {
			defer wg.Done()
			outcomes <- s.fetch(ctx, kind, t)
		}(t)
	}
	wg.Wait()
	close(outcomes)

	keys := make(map[string]struct{})
	for o := range outcomes {
		result.Failures = append(result.Failures, o.failures...)
		for _, sl := range o.slices {
			key := sl.Key()
			if _, dup := keys[key]; dup {
				continue
			}
			keys[key] = struct{}{}
			result.Slices[o.window] = append(result.Slices[o.window], sl)
		}
	}
	for w := range result.Slices {
		sort.Slice(result.Slices[w], func(i, j int) bool {
			return result.Slices[w][i].Producer < result.Slices[w][j].Producer
		})
	}

	log.Debug().
		Str("kind", string(kind)).
		Ints("windows", windows).
		Int("endpoints", len(seen)).
		Int("slices", result.Count()).
		Int("failures", len(result.Failures)).
		Msg("downloaded slices")
	return result
}

func (s *Store) fetch(ctx context.Context, kind ArtifactKind, t fetchTask) fetchOutcome {
	out := fetchOutcome{window: t.window}
	fail := func(key string, err error) {
		out.failures = append(out.failures, FetchFailure{Endpoint: t.endpoint, Window: t.window, Key: key, Err: err})
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	keys, err := s.remote.List(fetchCtx, t.endpoint, WindowPrefix(kind, t.window))
	if err != nil {
		fail("", err)
		return out
	}

	for _, key := range keys {
		k, w, _, err := ParseKey(key)
		if err != nil || k != kind || w != t.window {
			continue
		}

		data, err := s.remote.Get(fetchCtx, t.endpoint, key)
		if err != nil {
			fail(key, err)
			if fetchCtx.Err() != nil {
				return out
			}
			continue
		}

		slice, err := Decode(data, s.verifier)
		if err != nil {
			fail(key, err)
			continue
		}
		if slice.Key() != key {
			fail(key, fmt.Errorf("%w: envelope describes %s", ErrArtifactCorrupt, slice.Key()))
			continue
		}

		if err := fsutil.WriteFileAtomic(s.cachePath(key), data, 0o644); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("failed to cache downloaded slice")
		}
		out.slices = append(out.slices, slice)
	}
	return out
}

// Prune removes kind artifacts of windows below windowMax from the local cache
// and from the own endpoint. Already-absent artifacts are not an error.
func (s *Store) Prune(ctx context.Context, kind ArtifactKind, windowMax int) error {
	var errs []error
	removed := 0

	entries, err := os.ReadDir(s.cacheDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, fmt.Errorf("read cache directory: %w", err))
	}
	for _, entry := range entries {
		if entry.IsDir() || !stale(entry.Name(), kind, windowMax) {
			continue
		}
		if err := fsutil.RemoveIfExists(s.cachePath(entry.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}

	if s.own != "" {
		pruneCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		keys, err := s.remote.List(pruneCtx, s.own, KindPrefix(kind))
		if err != nil {
			errs = append(errs, fmt.Errorf("list own endpoint: %w", err))
		}
		for _, key := range keys {
			if !stale(key, kind, windowMax) {
				continue
			}
			if err := s.remote.Delete(pruneCtx, s.own, key); err != nil {
				errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
				continue
			}
			removed++
		}
	}

	if removed > 0 {
		log.Debug().Str("kind", string(kind)).Int("window_max", windowMax).Int("removed", removed).Msg("pruned slices")
	}
	return errors.Join(errs...)
}

func stale(key string, kind ArtifactKind, windowMax int) bool {
	k, w, _, err := ParseKey(key)
	return err == nil && k == kind && w < windowMax
}

// ApplyAll applies slices in order, skipping corrupt ones, and returns how
// many were applied together with the highest global step they carried.
func ApplyAll(slices []*Slice, params map[string]*model.Tensor, sel indices.Selection) (int, int) {
	applied, maxStep := 0, 0
	for _, sl := range slices {
		if err := Apply(sl, params, sel); err != nil {
			log.Warn().Err(err).Str("key", sl.Key()).Msg("skipping slice")
			continue
		}
		applied++
		if sl.GlobalStep > maxStep {
			maxStep = sl.GlobalStep
		}
	}
	return applied, maxStep
}
