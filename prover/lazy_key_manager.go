package prover

import (
	"fmt"
	"sync"

	"zkcash/zkcash-pool/logging"
	merkle_tree "zkcash/zkcash-pool/merkle-tree"
)

// LazyKeyManager caches withdraw proving systems by tree height and loads
// key files on first use, downloading them when they are not on disk yet.
type LazyKeyManager struct {
	mu                sync.RWMutex
	systems           map[uint32]*WithdrawProofSystem
	keysDir           string
	downloadConfig    *DownloadConfig
	loadingInProgress map[uint32]chan struct{}
}

func NewLazyKeyManager(keysDir string, downloadConfig *DownloadConfig) *LazyKeyManager {
	if downloadConfig == nil {
		downloadConfig = DefaultDownloadConfig()
	}
	return &LazyKeyManager{
		systems:           make(map[uint32]*WithdrawProofSystem),
		keysDir:           keysDir,
		downloadConfig:    downloadConfig,
		loadingInProgress: make(map[uint32]chan struct{}),
	}
}

func (m *LazyKeyManager) GetWithdrawSystem(treeHeight uint32) (*WithdrawProofSystem, error) {
	m.mu.RLock()
	if ps, exists := m.systems[treeHeight]; exists {
		m.mu.RUnlock()
		logging.Logger().Debug().
			Uint32("treeHeight", treeHeight).
			Msg("Found cached WithdrawProofSystem")
		return ps, nil
	}
	m.mu.RUnlock()

	return m.loadSystem(treeHeight)
}

func (m *LazyKeyManager) loadSystem(treeHeight uint32) (*WithdrawProofSystem, error) {
	loadChan := m.acquireLoadingLock(treeHeight)
	if loadChan == nil {
		m.waitForLoading(treeHeight)
		m.mu.RLock()
		ps, exists := m.systems[treeHeight]
		m.mu.RUnlock()
		if exists {
			return ps, nil
		}
		return nil, fmt.Errorf("loading completed but system not found in cache")
	}
	defer m.releaseLoadingLock(treeHeight, loadChan)

	if treeHeight < merkle_tree.MinDepth || treeHeight > merkle_tree.MaxDepth {
		return nil, fmt.Errorf("no key file mapping for tree height %d", treeHeight)
	}
	keyPath := WithdrawKeyPath(m.keysDir, treeHeight)

	logging.Logger().Info().
		Str("key_path", keyPath).
		Uint32("treeHeight", treeHeight).
		Msg("Loading WithdrawProofSystem")

	if err := DownloadKey(keyPath, m.downloadConfig); err != nil {
		return nil, fmt.Errorf("failed to download key %s: %w", keyPath, err)
	}

	ps, err := ReadSystemFromFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load key %s: %w", keyPath, err)
	}

	if ps.TreeHeight != treeHeight {
		return nil, fmt.Errorf("key file %s is for tree height %d, want %d", keyPath, ps.TreeHeight, treeHeight)
	}

	m.mu.Lock()
	m.systems[treeHeight] = ps
	m.mu.Unlock()

	logging.Logger().Info().
		Uint32("treeHeight", ps.TreeHeight).
		Msg("WithdrawProofSystem loaded and cached successfully")

	return ps, nil
}

func (m *LazyKeyManager) acquireLoadingLock(treeHeight uint32) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, loading := m.loadingInProgress[treeHeight]; loading {
		return nil
	}

	ch := make(chan struct{})
	m.loadingInProgress[treeHeight] = ch
	return ch
}

func (m *LazyKeyManager) waitForLoading(treeHeight uint32) {
	m.mu.RLock()
	ch := m.loadingInProgress[treeHeight]
	m.mu.RUnlock()

	if ch != nil {
		<-ch
	}
}

func (m *LazyKeyManager) releaseLoadingLock(treeHeight uint32, ch chan struct{}) {
	m.mu.Lock()
	delete(m.loadingInProgress, treeHeight)
	m.mu.Unlock()
	close(ch)
}

// CacheSystem registers an already built proving system, bypassing the
// key files on disk. Setup commands and tests use it.
func (m *LazyKeyManager) CacheSystem(ps *WithdrawProofSystem) {
	m.mu.Lock()
	m.systems[ps.TreeHeight] = ps
	m.mu.Unlock()

	logging.Logger().Debug().
		Uint32("treeHeight", ps.TreeHeight).
		Msg("Cached WithdrawProofSystem")
}

func (m *LazyKeyManager) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"systems_loaded": len(m.systems),
		"keys_loading":   len(m.loadingInProgress),
	}
}

// Preload loads keys for the given tree heights up front so the first
// withdrawal does not pay the load cost.
func (m *LazyKeyManager) Preload(treeHeights []uint32) error {
	if len(treeHeights) == 0 {
		logging.Logger().Info().Msg("No keys to preload")
		return nil
	}

	logging.Logger().Info().
		Int("count", len(treeHeights)).
		Msg("Starting to preload keys")

	for i, treeHeight := range treeHeights {
		logging.Logger().Info().
			Int("current", i+1).
			Int("total", len(treeHeights)).
			Uint32("treeHeight", treeHeight).
			Msg("Preloading key")

		if _, err := m.GetWithdrawSystem(treeHeight); err != nil {
			return fmt.Errorf("failed to preload key for tree height %d: %w", treeHeight, err)
		}
	}

	logging.Logger().Info().
		Int("count", len(treeHeights)).
		Msg("Successfully preloaded all keys")

	return nil
}
