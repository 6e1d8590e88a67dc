// Package device ties the protocol session and the profile store together
// into the high-level operations the CLI and HTTP API expose: capture a
// module into the library, program a module from the library, erase, and
// query status.
package device

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/josiah-nelson/sfplib/internal/config"
	"github.com/josiah-nelson/sfplib/internal/eeprom"
	"github.com/josiah-nelson/sfplib/internal/session"
	"github.com/josiah-nelson/sfplib/internal/store"
	"github.com/josiah-nelson/sfplib/internal/transport"
	"github.com/josiah-nelson/sfplib/internal/verify"
)

// CaptureResult reports one module capture.
type CaptureResult struct {
	Hash     string           `json:"hash"`
	New      bool             `json:"new"`
	Size     int              `json:"size"`
	Metadata *eeprom.Metadata `json:"metadata"`
}

// WriteResult reports one module programming run.
type WriteResult struct {
	Hash     string         `json:"hash"`
	Verified bool           `json:"verified"`
	Verify   *verify.Result `json:"verify,omitempty"`
}

// Manager owns one device session and the profile store.
type Manager struct {
	cfg     *config.Config
	sess    *session.Session
	st      *store.Store
	log     zerolog.Logger
	address string
}

// NewManager builds a manager over an already-constructed transport.
func NewManager(cfg *config.Config, tr transport.Transport, st *store.Store, log zerolog.Logger) *Manager {
	sessCfg := session.Config{
		ImageSize:         cfg.Protocol.ImageSize,
		MTU:               cfg.Protocol.MTU,
		SupportedVersions: cfg.Protocol.SupportedVersions,
		ConnectTimeout:    cfg.Protocol.ConnectTimeout,
		CommandTimeout:    cfg.Protocol.CommandTimeout,
		ReadTimeout:       cfg.Protocol.ReadTimeout,
		WriteTimeout:      cfg.Protocol.WriteTimeout,
		EraseTimeout:      cfg.Protocol.EraseTimeout,
		ChunkRetries:      cfg.Protocol.ChunkRetries,
		ChunkDelay:        cfg.Protocol.ChunkDelay,
	}
	return &Manager{
		cfg:  cfg,
		sess: session.New(tr, sessCfg, log),
		st:   st,
		log:  log,
	}
}

// Connect establishes the device session.
func (m *Manager) Connect(ctx context.Context, address string) error {
	if err := m.sess.Connect(ctx, address); err != nil {
		return err
	}
	m.address = address
	return nil
}

// Close tears the session down.
func (m *Manager) Close() error { return m.sess.Close() }

// FirmwareVersion returns the connected device's firmware revision.
func (m *Manager) FirmwareVersion() string { return m.sess.FirmwareVersion() }

// Status queries the device's self-reported state.
func (m *Manager) Status(ctx context.Context) (*session.Status, error) {
	return m.sess.GetStatus(ctx)
}

// Read reads the inserted module without storing it.
func (m *Manager) Read(ctx context.Context) (*eeprom.Image, error) {
	return m.sess.ReadEEPROM(ctx)
}

// Capture reads the inserted module and imports the capture into the
// library. Re-capturing an unchanged module dedupes onto the existing
// profile and reports New as false.
func (m *Manager) Capture(ctx context.Context) (*CaptureResult, error) {
	img, err := m.sess.ReadEEPROM(ctx)
	if err != nil {
		return nil, err
	}

	hash, isNew, err := m.st.Import(img.Bytes(), store.NewSource("module_read", m.address, ""))
	if err != nil {
		return nil, fmt.Errorf("store capture: %w", err)
	}

	m.log.Info().Str("hash", store.ShortHash(hash)).Bool("new", isNew).Msg("module captured")
	return &CaptureResult{
		Hash:     hash,
		New:      isNew,
		Size:     img.Len(),
		Metadata: eeprom.Parse(img),
	}, nil
}

// WriteImage programs the inserted module with img, verifying the result
// unless the caller opted out.
func (m *Manager) WriteImage(ctx context.Context, img *eeprom.Image, doVerify bool) (*WriteResult, error) {
	if !doVerify {
		if err := m.sess.WriteEEPROM(ctx, img); err != nil {
			return nil, err
		}
		return &WriteResult{Hash: img.Checksum()}, nil
	}

	r, err := verify.WriteAndVerify(ctx, m.sess, img, m.log)
	if err != nil {
		return nil, err
	}
	return &WriteResult{Hash: img.Checksum(), Verified: true, Verify: r}, nil
}

// WriteProfile programs the inserted module from a stored profile,
// identified by full hash or unique prefix.
func (m *Manager) WriteProfile(ctx context.Context, hashOrPrefix string, doVerify bool) (*WriteResult, error) {
	hash, err := m.st.Resolve(hashOrPrefix)
	if err != nil {
		return nil, err
	}
	img, err := m.st.GetImage(hash)
	if err != nil {
		return nil, err
	}
	return m.WriteImage(ctx, img, doVerify)
}

// Erase blanks the inserted module.
func (m *Manager) Erase(ctx context.Context) error {
	return m.sess.EraseEEPROM(ctx)
}
