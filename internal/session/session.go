// Package session drives the programmer's command protocol: it sequences
// the device's primitive commands (version, stats, sif/start, sif/write,
// sif/erase, sif/stop) into complete read, write and erase operations, and
// owns every timing and error-recovery decision along the way.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/josiah-nelson/sfplib/internal/eeprom"
	"github.com/josiah-nelson/sfplib/internal/frame"
	"github.com/josiah-nelson/sfplib/internal/transport"
)

// Protocol command lines, sent verbatim over the write characteristic.
const (
	cmdVersion  = "GET /api/1.0/version"
	cmdStats    = "GET /stats"
	cmdSifStart = "POST /sif/start"
	cmdSifWrite = "POST /sif/write"
	cmdSifErase = "POST /sif/erase"
	cmdSifStop  = "POST /sif/stop"
)

// responseTerminator ends every text response from the firmware. Binary
// EEPROM streams are length-delimited instead.
const responseTerminator = '\n'

// State is the session's position in its operation lifecycle.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateOperationInProgress
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateOperationInProgress:
		return "operation_in_progress"
	}
	return "unknown"
}

// Outcome is the terminal cause of the most recent operation. Timeouts,
// protocol failures and caller aborts are kept distinct so failure-mode
// statistics can tell device unresponsiveness from protocol errors from
// deliberate aborts.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeCompleted
	OutcomeFailed
	OutcomeTimedOut
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeCancelled:
		return "cancelled"
	}
	return "none"
}

// Config carries the session's protocol parameters. Zero values fall back
// to the firmware v1.0.x defaults.
type Config struct {
	// ImageSize is the expected EEPROM image length in bytes.
	ImageSize int `yaml:"image_size"`
	// MTU is the largest single characteristic write the device accepts.
	MTU int `yaml:"mtu"`
	// SupportedVersions lists firmware revision prefixes this client
	// speaks. The version handshake must match one of them.
	SupportedVersions []string `yaml:"supported_versions"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	EraseTimeout   time.Duration `yaml:"erase_timeout"`

	// ChunkRetries bounds transport-level retries per characteristic
	// write. Protocol-level errors are never retried.
	ChunkRetries int `yaml:"chunk_retries"`
	// ChunkDelay paces successive data chunks so the firmware's UART
	// bridge keeps up.
	ChunkDelay time.Duration `yaml:"chunk_delay"`
}

func (c Config) withDefaults() Config {
	if c.ImageSize == 0 {
		c.ImageSize = eeprom.BaseSize
	}
	if c.MTU == 0 {
		c.MTU = frame.DefaultMTU
	}
	if len(c.SupportedVersions) == 0 {
		c.SupportedVersions = []string{"1.0", "1.1"}
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.CommandTimeout == 0 {
		c.CommandTimeout = 5 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 60 * time.Second
	}
	if c.EraseTimeout == 0 {
		c.EraseTimeout = 30 * time.Second
	}
	if c.ChunkRetries == 0 {
		c.ChunkRetries = 3
	}
	return c
}

// Status is the device's self-reported state from GET /stats. Parsing is
// best-effort; Raw always carries the untouched response.
type Status struct {
	Raw           string         `json:"raw"`
	Fields        map[string]any `json:"fields,omitempty"`
	ModulePresent bool           `json:"module_present"`
}

// Session is one logical protocol session over one physical device
// connection. At most one operation is in flight at a time; concurrent
// callers are rejected immediately with ErrSessionBusy.
type Session struct {
	tr  transport.Transport
	cfg Config
	log zerolog.Logger

	// opMu is the capacity-1 primitive enforcing the single-operation
	// invariant. TryLock gives the non-blocking rejection.
	opMu sync.Mutex

	mu        sync.Mutex
	state     State
	outcome   Outcome
	connected bool
	cancelOp  context.CancelFunc
	version   string

	notif chan []byte
}

// New creates a session over the given transport. The session does not own
// the transport's lifecycle beyond Connect/Close.
func New(tr transport.Transport, cfg Config, log zerolog.Logger) *Session {
	return &Session{
		tr:    tr,
		cfg:   cfg.withDefaults(),
		log:   log,
		notif: make(chan []byte, 128),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastOutcome returns the terminal cause of the most recent operation.
func (s *Session) LastOutcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// FirmwareVersion returns the version string captured during Connect.
func (s *Session) FirmwareVersion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Connect establishes the GATT link, subscribes to notifications and
// confirms the device speaks a supported protocol revision.
func (s *Session) Connect(ctx context.Context, address string) error {
	if !s.opMu.TryLock() {
		return ErrSessionBusy
	}
	defer s.opMu.Unlock()

	s.setState(StateConnecting)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	if err := s.tr.Connect(ctx, address); err != nil {
		s.setState(StateIdle)
		return err
	}
	if err := s.tr.Subscribe(s.handleNotification); err != nil {
		s.tr.Disconnect()
		s.setState(StateIdle)
		return err
	}

	version, err := s.textCommand(ctx, cmdVersion)
	if err != nil {
		s.tr.Disconnect()
		s.setState(StateIdle)
		return err
	}

	if !s.versionSupported(version) {
		s.tr.Disconnect()
		s.setState(StateIdle)
		return &IncompatibleDeviceError{Version: version, Supported: s.cfg.SupportedVersions}
	}

	s.mu.Lock()
	s.connected = true
	s.version = version
	s.state = StateConnected
	s.mu.Unlock()

	s.log.Info().Str("address", address).Str("firmware", version).Msg("session established")
	return nil
}

// Close tears down the session. A session is not reused across device
// power cycles; reconnecting renegotiates from scratch.
func (s *Session) Close() error {
	s.mu.Lock()
	s.connected = false
	s.version = ""
	s.state = StateIdle
	s.mu.Unlock()
	return s.tr.Disconnect()
}

// ReadEEPROM reads the full module EEPROM. On timeout the partial buffer is
// discarded and a best-effort sif/stop is sent so the device session does
// not leak.
func (s *Session) ReadEEPROM(ctx context.Context) (*eeprom.Image, error) {
	release, err := s.begin()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ReadTimeout)
	s.armCancel(cancel)

	img, err := s.readLocked(ctx)
	cancel()
	s.disarmCancel()
	if err != nil {
		s.cleanupStop()
		err = s.mapExitError(err, ErrReadTimeout)
		release(outcomeOf(err))
		s.log.Error().Err(err).Msg("eeprom read failed")
		return nil, err
	}

	release(OutcomeCompleted)
	s.log.Info().Int("bytes", img.Len()).Str("checksum", img.Checksum()).Msg("eeprom read complete")
	return img, nil
}

func (s *Session) readLocked(ctx context.Context) (*eeprom.Image, error) {
	s.drainNotifications()

	if err := s.writeCommand(ctx, cmdSifStart); err != nil {
		return nil, err
	}

	re := frame.ExpectLength(s.cfg.ImageSize)
	data, err := s.awaitResponse(ctx, re)
	if err != nil {
		return nil, err
	}

	if err := s.writeCommand(ctx, cmdSifStop); err != nil {
		return nil, err
	}

	return eeprom.NewImage(data, s.cfg.ImageSize, eeprom.SourceDevice)
}

// WriteEEPROM transmits an image to the module. The image length is
// validated before any command reaches the transport. The write is not
// verified here; verification is a separate, explicit step so callers can
// opt out knowingly.
func (s *Session) WriteEEPROM(ctx context.Context, img *eeprom.Image) error {
	if img.Len() != s.cfg.ImageSize {
		return &eeprom.ImageLengthError{Got: img.Len(), Want: s.cfg.ImageSize}
	}

	release, err := s.begin()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
	s.armCancel(cancel)

	err = s.writeLocked(ctx, img)
	cancel()
	s.disarmCancel()
	if err != nil {
		s.cleanupStop()
		err = s.mapExitError(err, ErrWriteTimeout)
		release(outcomeOf(err))
		s.log.Error().Err(err).Msg("eeprom write failed")
		return err
	}

	release(OutcomeCompleted)
	s.log.Info().Int("bytes", img.Len()).Str("checksum", img.Checksum()).Msg("eeprom write transmitted")
	return nil
}

func (s *Session) writeLocked(ctx context.Context, img *eeprom.Image) error {
	s.drainNotifications()

	if err := s.writeCommand(ctx, cmdSifStart); err != nil {
		return err
	}
	if err := s.writeCommand(ctx, cmdSifWrite); err != nil {
		return err
	}
	// The firmware treats sif/start as arming an EEPROM session and may
	// begin streaming before it sees sif/write; discard any such output.
	s.drainNotifications()

	for _, chunk := range frame.Chunks(img.Bytes(), s.cfg.MTU) {
		if err := s.writeChunk(ctx, chunk); err != nil {
			return err
		}
		if s.cfg.ChunkDelay > 0 {
			select {
			case <-time.After(s.cfg.ChunkDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	ack, err := s.awaitResponse(ctx, frame.ExpectTerminator(responseTerminator))
	if err != nil {
		return err
	}
	if !ackOK(ack) {
		return &ProtocolError{Command: cmdSifWrite, Payload: ack}
	}

	return s.writeCommand(ctx, cmdSifStop)
}

// EraseEEPROM blanks the module EEPROM and awaits the device's
// acknowledgment.
func (s *Session) EraseEEPROM(ctx context.Context) error {
	release, err := s.begin()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.EraseTimeout)
	s.armCancel(cancel)

	err = s.eraseLocked(ctx)
	cancel()
	s.disarmCancel()
	if err != nil {
		s.cleanupStop()
		err = s.mapExitError(err, ErrEraseTimeout)
		release(outcomeOf(err))
		s.log.Error().Err(err).Msg("eeprom erase failed")
		return err
	}

	release(OutcomeCompleted)
	s.log.Info().Msg("eeprom erase complete")
	return nil
}

func (s *Session) eraseLocked(ctx context.Context) error {
	s.drainNotifications()

	if err := s.writeCommand(ctx, cmdSifErase); err != nil {
		return err
	}
	ack, err := s.awaitResponse(ctx, frame.ExpectTerminator(responseTerminator))
	if err != nil {
		return err
	}
	if !ackOK(ack) {
		return &ProtocolError{Command: cmdSifErase, Payload: ack}
	}
	return nil
}

// GetStatus queries device and module presence state.
func (s *Session) GetStatus(ctx context.Context) (*Status, error) {
	release, err := s.begin()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.CommandTimeout)
	s.armCancel(cancel)

	s.drainNotifications()
	raw, err := s.request(ctx, cmdStats)
	cancel()
	s.disarmCancel()
	if err != nil {
		err = s.mapExitError(err, ErrCommandTimeout)
		release(outcomeOf(err))
		return nil, err
	}

	release(OutcomeCompleted)
	return parseStatus(raw), nil
}

// Cancel aborts the in-flight operation, best-effort. The device is told to
// stop but the physical operation may already have progressed irreversibly;
// the session itself is guaranteed to land back in Idle.
func (s *Session) Cancel() {
	s.mu.Lock()
	cancel := s.cancelOp
	s.mu.Unlock()
	if cancel != nil {
		s.log.Info().Msg("cancelling in-flight operation")
		cancel()
	}
}

// --- operation plumbing ---

// begin acquires the single-operation slot without blocking. The returned
// release moves the session to its terminal outcome and back to Idle.
func (s *Session) begin() (func(Outcome), error) {
	if !s.opMu.TryLock() {
		return nil, ErrSessionBusy
	}

	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		s.opMu.Unlock()
		return nil, ErrNotConnected
	}
	s.state = StateOperationInProgress
	s.mu.Unlock()

	return func(outcome Outcome) {
		s.mu.Lock()
		s.outcome = outcome
		s.state = StateIdle
		s.mu.Unlock()
		s.opMu.Unlock()
	}, nil
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) armCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	s.cancelOp = cancel
	s.mu.Unlock()
}

func (s *Session) disarmCancel() {
	s.mu.Lock()
	s.cancelOp = nil
	s.mu.Unlock()
}

// mapExitError translates context expiry into the operation's timeout
// sentinel and caller aborts into ErrCancelled. Other errors pass through.
func (s *Session) mapExitError(err error, timeoutErr error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return timeoutErr
	case errors.Is(err, context.Canceled):
		return ErrCancelled
	default:
		return err
	}
}

func outcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeCompleted
	case errors.Is(err, ErrCancelled):
		return OutcomeCancelled
	case errors.Is(err, ErrReadTimeout),
		errors.Is(err, ErrWriteTimeout),
		errors.Is(err, ErrEraseTimeout),
		errors.Is(err, ErrCommandTimeout):
		return OutcomeTimedOut
	default:
		return OutcomeFailed
	}
}

// cleanupStop fires sif/stop on any non-success exit from an operation so
// the device's own session never stays half-open. Runs on a fresh short
// deadline because the operation context is already dead.
func (s *Session) cleanupStop() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.writeCommand(ctx, cmdSifStop); err != nil {
		s.log.Warn().Err(err).Msg("cleanup sif/stop failed")
	}
}

// --- wire helpers ---

func (s *Session) handleNotification(p []byte) {
	select {
	case s.notif <- p:
	default:
		// A full queue means the consumer died mid-operation; dropping
		// here is surfaced later as a framing/timeout failure.
		s.log.Warn().Int("bytes", len(p)).Msg("notification queue full, fragment dropped")
	}
}

func (s *Session) drainNotifications() {
	for {
		select {
		case <-s.notif:
		default:
			return
		}
	}
}

// writeCommand sends one text command line.
func (s *Session) writeCommand(ctx context.Context, cmd string) error {
	s.log.Debug().Str("command", cmd).Msg("sending")
	return s.writeChunk(ctx, []byte(cmd))
}

// writeChunk performs one characteristic write with bounded transport-level
// retries. Protocol-level failures never come through this path.
func (s *Session) writeChunk(ctx context.Context, p []byte) error {
	var lastErr error
	for attempt := 0; attempt < s.cfg.ChunkRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.tr.WriteCharacteristic(ctx, p); err != nil {
			lastErr = err
			s.log.Debug().Err(err).Int("attempt", attempt+1).Msg("chunk write failed, retrying")
			select {
			case <-time.After(20 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		return nil
	}
	return lastErr
}

// awaitResponse consumes notifications in delivery order until the
// reassembler completes or the context expires.
func (s *Session) awaitResponse(ctx context.Context, re *frame.Reassembler) ([]byte, error) {
	for {
		select {
		case fragment := <-s.notif:
			done, err := re.Feed(fragment)
			if err != nil {
				return nil, err
			}
			if done {
				return re.Bytes(), nil
			}
		case <-ctx.Done():
			s.log.Debug().Int("partial_bytes", re.Len()).Msg("response wait expired")
			return nil, ctx.Err()
		}
	}
}

// request sends a text command and collects its newline-terminated reply.
func (s *Session) request(ctx context.Context, cmd string) ([]byte, error) {
	if err := s.writeCommand(ctx, cmd); err != nil {
		return nil, err
	}
	return s.awaitResponse(ctx, frame.ExpectTerminator(responseTerminator))
}

// textCommand is request with string trimming, for handshake-style replies.
func (s *Session) textCommand(ctx context.Context, cmd string) (string, error) {
	raw, err := s.request(ctx, cmd)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

func (s *Session) versionSupported(version string) bool {
	v := strings.TrimPrefix(strings.ToLower(version), "v")
	for _, supported := range s.cfg.SupportedVersions {
		if strings.HasPrefix(v, strings.ToLower(supported)) {
			return true
		}
	}
	return false
}

// ackOK accepts the firmware's success acknowledgments. Anything else is
// unexpected content and becomes a ProtocolError upstream.
func ackOK(ack []byte) bool {
	t := strings.ToLower(strings.TrimSpace(string(ack)))
	return t == "ok" || t == "done" || strings.HasPrefix(t, "200")
}

func parseStatus(raw []byte) *Status {
	st := &Status{Raw: strings.TrimSpace(string(raw))}

	// Newer firmware replies with a JSON object; older revisions send
	// key=value text. Both are best-effort.
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err == nil {
		st.Fields = fields
	} else {
		fields = make(map[string]any)
		for _, kv := range strings.Fields(st.Raw) {
			if k, v, ok := strings.Cut(kv, "="); ok {
				fields[k] = v
			}
		}
		if len(fields) > 0 {
			st.Fields = fields
		}
	}

	for _, key := range []string{"module", "modulePresent", "sfp", "present"} {
		switch v := st.Fields[key].(type) {
		case bool:
			st.ModulePresent = st.ModulePresent || v
		case string:
			st.ModulePresent = st.ModulePresent || v == "1" || strings.EqualFold(v, "true")
		case float64:
			st.ModulePresent = st.ModulePresent || v != 0
		}
	}
	return st
}
