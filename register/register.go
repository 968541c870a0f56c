package register

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/hashgate/powreg/client"
	"github.com/hashgate/powreg/logging"
	"github.com/hashgate/powreg/pow"
)

//go:generate mockgen -package mocks -destination mocks/service.go . Service

// Service is the registration endpoint as seen by the registrar.
// *client.Client implements it.
type Service interface {
	Challenge(ctx context.Context) (*client.Challenge, error)
	Submit(ctx context.Context, email string, sol pow.Solution) (*client.Receipt, error)
}

// An attempt moves through these stages in order and never branches back.
const (
	stageFetching   = "fetching"
	stageSolving    = "solving"
	stageSubmitting = "submitting"
)

var (
	attemptsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "powreg",
		Subsystem: "register",
		Name:      "attempts_total",
		Help:      "Registration attempts by result",
	}, []string{"result"})

	failuresMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "powreg",
		Subsystem: "register",
		Name:      "failures_total",
		Help:      "Failed registration attempts by terminal stage",
	}, []string{"stage"})

	solveLatencyMetric = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "powreg",
		Subsystem: "register",
		Name:      "solve_latency_seconds",
		Help:      "Latency of the nonce search",
		Buckets:   prometheus.ExponentialBuckets(0.001, 1.5, 20),
	})
)

// Outcome is the single terminal value of an attempt. Position is -1 when
// the server did not report a queue position. Error is empty on success and
// carries the component error's text verbatim otherwise.
type Outcome struct {
	Success  bool
	Position int
	Error    string
}

type Config struct {
	// Budget is the wall-clock deadline shared by the challenge fetch and
	// the submission. The nonce search runs outside of it.
	Budget time.Duration
	// MaxAttempts bounds the nonce search per challenge.
	MaxAttempts uint64
}

func DefaultConfig() Config {
	return Config{
		Budget:      5 * time.Second,
		MaxAttempts: pow.DefaultMaxAttempts,
	}
}

// Registrar runs registration attempts against a Service. Attempts share no
// state; a single Registrar may run them concurrently.
type Registrar struct {
	svc Service
	cfg Config
}

func New(svc Service, cfg Config) *Registrar {
	return &Registrar{svc: svc, cfg: cfg}
}

// Run performs one registration attempt for email: fetch the challenge,
// search for a satisfying nonce and submit the solution. Run never fails in
// the error-return sense; every failure, including a panic in a collaborator,
// is flattened into the returned Outcome.
func (r *Registrar) Run(ctx context.Context, email string) (outcome Outcome) {
	logger := logging.FromContext(ctx).With(
		zap.String("email", email),
		zap.String("attempt", uuid.New().String()),
	)

	stage := stageFetching
	defer func() {
		if p := recover(); p != nil {
			outcome = r.fail(logger, stage, fmt.Errorf("unexpected fault: %v", p))
		}
	}()

	netCtx, cancel := context.WithTimeout(ctx, r.cfg.Budget)
	defer cancel()

	logger.Debug("fetching challenge")
	challenge, err := r.svc.Challenge(netCtx)
	if err != nil {
		return r.fail(logger, stage, err)
	}
	logger.Debug("challenge received",
		zap.Bool("pow_required", challenge.PowRequired),
		zap.Uint("difficulty", challenge.Difficulty),
	)
	if !challenge.PowRequired {
		// The server still expects a coherent (nonce, digest) pair, so the
		// search runs regardless of the flag. With difficulty 0 it accepts
		// nonce 0 immediately.
		logger.Debug("server does not require proof of work")
	}

	stage = stageSolving
	start := time.Now()
	solution, err := pow.FindNonce(challenge.Token, challenge.Difficulty, r.cfg.MaxAttempts)
	if err != nil {
		return r.fail(logger, stage, err)
	}
	elapsed := time.Since(start)
	solveLatencyMetric.Observe(elapsed.Seconds())
	logger.Debug("challenge solved",
		zap.String("nonce", solution.Nonce),
		zap.String("digest", solution.Digest),
		zap.Duration("elapsed", elapsed),
	)

	stage = stageSubmitting
	logger.Debug("submitting solution")
	receipt, err := r.svc.Submit(netCtx, email, solution)
	if err != nil {
		return r.fail(logger, stage, err)
	}

	position := -1
	if receipt.Position != nil {
		position = *receipt.Position
	}
	attemptsMetric.WithLabelValues("succeeded").Inc()
	logger.Debug("registration accepted", zap.Int("position", position))
	return Outcome{Success: true, Position: position}
}

func (r *Registrar) fail(logger *zap.Logger, stage string, err error) Outcome {
	attemptsMetric.WithLabelValues("failed").Inc()
	failuresMetric.WithLabelValues(stage).Inc()
	logger.Debug("attempt failed", zap.String("stage", stage), zap.Error(err))
	return Outcome{Success: false, Position: -1, Error: err.Error()}
}
