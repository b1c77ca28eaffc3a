// Package dispatch maps client requests to face analysis operations
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/MrCodeEU/faceservice/internal/config"
	"github.com/MrCodeEU/faceservice/internal/embedding"
	"github.com/MrCodeEU/faceservice/internal/liveness"
	"github.com/MrCodeEU/faceservice/internal/protocol"
	"github.com/MrCodeEU/faceservice/internal/quality"
	"github.com/MrCodeEU/faceservice/pkg/models"
	"github.com/MrCodeEU/faceservice/pkg/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Command names
const (
	CmdDetect           = "DETECT"
	CmdExtractEmbedding = "EXTRACT_EMBEDDING"
	CmdCompare          = "COMPARE"
	CmdEnrollCapture    = "ENROLL_CAPTURE"
	CmdValidateQuality  = "VALIDATE_QUALITY"
	CmdCheckLiveness    = "CHECK_LIVENESS"
	CmdCheckSpoof       = "CHECK_SPOOF"
	CmdResetSession     = "RESET_SESSION"
	CmdPing             = "PING"
)

// Detector finds faces in a frame
type Detector interface {
	Detect(ctx context.Context, frame *utils.Frame) ([]models.Face, error)
}

// Recognizer computes a face embedding, optionally inside bbox. A nil
// embedding with a nil error means no face was found.
type Recognizer interface {
	Embed(ctx context.Context, frame *utils.Frame, bbox *models.BBox) ([]float32, error)
}

// Decoder turns compressed image bytes into a frame
type Decoder interface {
	Decode(data []byte) (*utils.Frame, error)
}

// EnrollmentStore persists enrollment captures and comparison logs
type EnrollmentStore interface {
	AddCapture(name string, embedding []float32, qualityScore float64) (*embedding.Capture, error)
	MatchSubject(name string, probe []float32) (*embedding.Match, error)
	FindBestMatch(probe []float32, threshold float64) (*embedding.Match, error)
	RecordComparison(c embedding.Comparison) error
}

// CommandError is a failed command. Reason is sent to the client; Err, when
// set, is a collaborator fault that is only logged.
type CommandError struct {
	Command   string
	SessionID string
	Reason    string
	Err       error
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %s: %v", e.Command, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s failed: %s", e.Command, e.Reason)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// reject is a domain or decode failure
func reject(format string, args ...any) error {
	return &CommandError{Reason: fmt.Sprintf(format, args...)}
}

// fault is a collaborator failure
func fault(reason string, err error) error {
	return &CommandError{Reason: reason, Err: err}
}

type handlerFunc func(s *Session, ctx context.Context, req *protocol.Request) (any, error)

// Dispatcher holds the collaborators shared by every session. Sessions are
// served one at a time, so the collaborators need no locking.
type Dispatcher struct {
	detector   Detector
	recognizer Recognizer
	decoder    Decoder
	validator  *quality.Validator
	liveness   *liveness.Engine
	store      EnrollmentStore
	threshold  float64
	embSize    int
	version    string
	logger     *logrus.Logger
	handlers   map[string]handlerFunc
}

// New creates a dispatcher. store may be nil when enrollment storage is
// disabled.
func New(cfg *config.Config, detector Detector, recognizer Recognizer, store EnrollmentStore, logger *logrus.Logger) *Dispatcher {
	codec := utils.NewCodec()
	codec.MaxPixels = cfg.Server.MaxFramePixels

	d := &Dispatcher{
		detector:   detector,
		recognizer: recognizer,
		decoder:    codec,
		validator:  quality.NewValidator(cfg.Quality),
		liveness:   liveness.NewEngine(cfg.Liveness),
		store:      store,
		threshold:  cfg.Recognition.SimilarityThreshold,
		embSize:    cfg.Recognition.EmbeddingSize,
		version:    "dev",
		logger:     logger,
	}

	d.handlers = map[string]handlerFunc{
		CmdDetect:           (*Session).handleDetect,
		CmdExtractEmbedding: (*Session).handleExtractEmbedding,
		CmdCompare:          (*Session).handleCompare,
		CmdEnrollCapture:    (*Session).handleEnrollCapture,
		CmdValidateQuality:  (*Session).handleValidateQuality,
		CmdCheckLiveness:    (*Session).handleCheckLiveness,
		CmdCheckSpoof:       (*Session).handleCheckSpoof,
		CmdResetSession:     (*Session).handleResetSession,
		CmdPing:             (*Session).handlePing,
	}

	return d
}

// SetVersion sets the version reported by PING
func (d *Dispatcher) SetVersion(version string) {
	d.version = version
}

// Session is the per-connection state: an id and the liveness histories
type Session struct {
	id       string
	d        *Dispatcher
	liveness *liveness.Session
	log      *logrus.Entry
}

// NewSession starts a session with empty liveness history
func (d *Dispatcher) NewSession() *Session {
	id := uuid.NewString()
	return &Session{
		id:       id,
		d:        d,
		liveness: d.liveness.NewSession(),
		log:      d.logger.WithField("session_id", id),
	}
}

// ID returns the session id
func (s *Session) ID() string {
	return s.id
}

// Close releases the session's history
func (s *Session) Close() {
	s.liveness.Reset()
}

// HandleMessage decodes one raw request, dispatches it and encodes the
// response. It always returns a response message.
func (s *Session) HandleMessage(ctx context.Context, msg []byte) []byte {
	var resp *protocol.Response

	req, err := protocol.DecodeRequest(msg)
	if err != nil {
		s.log.Warnf("Invalid JSON message: %v", err)
		resp = protocol.Failure("Invalid JSON: %v", err)
	} else {
		resp = s.Handle(ctx, req)
	}

	out, err := protocol.EncodeResponse(resp)
	if err != nil {
		s.log.Errorf("Failed to encode response: %v", err)
		out, _ = protocol.EncodeResponse(protocol.Failure("Failed to encode response"))
	}
	return out
}

// Handle runs one request. Every failure, including a panic in a handler,
// becomes a failure response.
func (s *Session) Handle(ctx context.Context, req *protocol.Request) (resp *protocol.Response) {
	command := strings.ToUpper(strings.TrimSpace(req.Command))
	log := s.log.WithField("command", command)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.WithField("stack", string(debug.Stack())).Errorf("Panic while handling command: %v", r)
			resp = protocol.Failure("Internal error processing %s", command)
		}
		log.WithFields(logrus.Fields{
			"duration": time.Since(start),
			"success":  resp.Success,
		}).Debug("Command handled")
	}()

	handler, ok := s.d.handlers[command]
	if !ok {
		return protocol.Failure("Unknown command: %s", command)
	}

	data, err := handler(s, ctx, req)
	if err != nil {
		return s.failure(log, command, err)
	}
	return protocol.Success(data)
}

func (s *Session) failure(log *logrus.Entry, command string, err error) *protocol.Response {
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		cmdErr = &CommandError{Reason: err.Error(), Err: err}
	}
	cmdErr.Command = command
	cmdErr.SessionID = s.id

	if cmdErr.Err != nil {
		log.WithError(cmdErr.Err).Errorf("Error processing command %s: %s", command, cmdErr.Reason)
	} else {
		log.Debugf("Command rejected: %s", cmdErr.Reason)
	}

	return protocol.Failure("%s", cmdErr.Reason)
}
