package api

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/openloot/faircore/internal/engine"
)

// SecurityLogger handles security-conscious logging with no raw seed exposure
type SecurityLogger struct {
	logger *log.Logger
}

// NewSecurityLogger creates a new security logger
func NewSecurityLogger() *SecurityLogger {
	logger := log.New(os.Stdout, "[SECURITY] ", log.LstdFlags|log.LUTC)
	return &SecurityLogger{
		logger: logger,
	}
}

// LogSeedCommit logs a seed commitment. Only the published hash appears.
func (sl *SecurityLogger) LogSeedCommit(requestID, userID, serverSeedHash string) {
	sl.logger.Printf(
		"seed_commit request_id=%s user_id=%s server_seed_hash=%s engine_version=%s timestamp=%s",
		requestID,
		userID,
		serverSeedHash,
		EngineVersion,
		time.Now().UTC().Format(time.RFC3339),
	)
}

// LogSeedRotation logs a rotation: the outgoing seed is public from this
// point on, so its hash and the incoming commitment are both safe to log.
func (sl *SecurityLogger) LogSeedRotation(requestID, userID, revealedHash, nextHash string, finalNonce uint64) {
	sl.logger.Printf(
		"seed_rotation request_id=%s user_id=%s revealed_hash=%s next_hash=%s final_nonce=%d engine_version=%s timestamp=%s",
		requestID,
		userID,
		revealedHash,
		nextHash,
		finalNonce,
		EngineVersion,
		time.Now().UTC().Format(time.RFC3339),
	)
}

// LogOutcomeOperation logs a box open with security-safe parameters
func (sl *SecurityLogger) LogOutcomeOperation(
	requestID string,
	userID string,
	boxID string,
	nonce uint64,
	itemID string,
	randomValue float64,
) {
	sl.logger.Printf(
		"outcome_operation request_id=%s user_id=%s box_id=%s nonce=%d item_id=%s random_value=%f engine_version=%s timestamp=%s",
		requestID,
		userID,
		boxID,
		nonce,
		itemID,
		randomValue,
		EngineVersion,
		time.Now().UTC().Format(time.RFC3339),
	)
}

// LogBattleEvent logs battle lifecycle transitions
func (sl *SecurityLogger) LogBattleEvent(requestID, battleID, event string, details map[string]interface{}) {
	sl.logger.Printf(
		"battle_event request_id=%s battle_id=%s event=%s details=%+v engine_version=%s timestamp=%s",
		requestID,
		battleID,
		event,
		sl.sanitizeContext(details),
		EngineVersion,
		time.Now().UTC().Format(time.RFC3339),
	)
}

// LogScanOperation logs replay scans with hashed seeds
func (sl *SecurityLogger) LogScanOperation(
	requestID string,
	serverSeed string,
	clientSeed string,
	nonceStart, nonceEnd uint64,
	limit int,
	timeoutMs int,
) {
	sl.logger.Printf(
		"scan_operation request_id=%s server_hash=%s client_hash=%s nonce_range=%d-%d limit=%d timeout_ms=%d engine_version=%s timestamp=%s",
		requestID,
		sl.hashSeed(serverSeed),
		sl.hashSeed(clientSeed),
		nonceStart,
		nonceEnd,
		limit,
		timeoutMs,
		EngineVersion,
		time.Now().UTC().Format(time.RFC3339),
	)
}

// LogSecurityEvent logs security-related events (failed validations, integrity faults)
func (sl *SecurityLogger) LogSecurityEvent(
	requestID string,
	eventType string,
	description string,
	context map[string]interface{},
	remoteAddr string,
) {
	sanitizedContext := sl.sanitizeContext(context)

	sl.logger.Printf(
		"security_event request_id=%s type=%s description=%q context=%+v remote_addr=%s engine_version=%s timestamp=%s",
		requestID,
		eventType,
		description,
		sanitizedContext,
		remoteAddr,
		EngineVersion,
		time.Now().UTC().Format(time.RFC3339),
	)
}

// LogAuditEvent logs audit events for compliance and debugging
func (sl *SecurityLogger) LogAuditEvent(
	requestID string,
	action string,
	resource string,
	outcome string,
	details map[string]interface{},
) {
	sanitizedDetails := sl.sanitizeContext(details)

	sl.logger.Printf(
		"audit_event request_id=%s action=%s resource=%s outcome=%s details=%+v engine_version=%s timestamp=%s",
		requestID,
		action,
		resource,
		outcome,
		sanitizedDetails,
		EngineVersion,
		time.Now().UTC().Format(time.RFC3339),
	)
}

// hashSeed creates a SHA256 hash of a seed for logging (first 16 chars for brevity)
func (sl *SecurityLogger) hashSeed(seed string) string {
	if seed == "" {
		return "empty"
	}
	hash := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(hash[:])[:16]
}

// sanitizeContext removes sensitive data from context maps
func (sl *SecurityLogger) sanitizeContext(context map[string]interface{}) map[string]interface{} {
	if context == nil {
		return nil
	}

	sanitized := make(map[string]interface{})
	for key, value := range context {
		switch key {
		case "server_seed", "serverSeed", "server", "client_seed", "clientSeed", "client":
			// Hash seeds instead of logging them
			if strVal, ok := value.(string); ok {
				sanitized[key+"_hash"] = sl.hashSeed(strVal)
			} else {
				sanitized[key+"_hash"] = fmt.Sprintf("non_string_value_%T", value)
			}
		case "private_key", "secret", "password", "token", "api_key", "authorization":
			// Never log these
			sanitized[key] = "[REDACTED]"
		case "seeds":
			if pair, ok := value.(engine.Seeds); ok {
				sanitized["server_seed_hash"] = sl.hashSeed(pair.Server)
				sanitized["client_seed_hash"] = sl.hashSeed(pair.Client)
			} else {
				sanitized[key] = "[SEEDS_OBJECT]"
			}
		default:
			sanitized[key] = value
		}
	}

	return sanitized
}

// LogSystemStartup logs system startup information
func (sl *SecurityLogger) LogSystemStartup(port string, config map[string]interface{}) {
	sanitizedConfig := sl.sanitizeContext(config)

	sl.logger.Printf(
		"system_startup port=%s config=%+v engine_version=%s git_commit=%s build_time=%s timestamp=%s",
		port,
		sanitizedConfig,
		EngineVersion,
		GitCommit,
		BuildTime,
		time.Now().UTC().Format(time.RFC3339),
	)
}

// LogSystemShutdown logs system shutdown information
func (sl *SecurityLogger) LogSystemShutdown(reason string, uptime time.Duration) {
	sl.logger.Printf(
		"system_shutdown reason=%s uptime=%v engine_version=%s timestamp=%s",
		reason,
		uptime,
		EngineVersion,
		time.Now().UTC().Format(time.RFC3339),
	)
}
