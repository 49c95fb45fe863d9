// Package monitoring provides alerting capabilities for the news monitor backend
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// AlertSeverity represents the severity level of an alert
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// AlertType represents the type of alert
type AlertType string

const (
	AlertTypeSourceFailure   AlertType = "source_failure"
	AlertTypeLLMFailure      AlertType = "llm_failure"
	AlertTypeAnalysisBacklog AlertType = "analysis_backlog"
	AlertTypeDatastoreError  AlertType = "datastore_error"
	AlertTypeHighLatency     AlertType = "high_latency"
)

// Alert thresholds evaluated against the current tracking window
const (
	minWindowSamples        = 5
	failureRateThreshold    = 0.5
	backlogAlertThreshold   = 500
	datastoreErrorThreshold = 5
)

// Alert represents an alert
type Alert struct {
	ID          string                 `json:"id"`
	Type        AlertType              `json:"type"`
	Severity    AlertSeverity          `json:"severity"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Timestamp   time.Time              `json:"timestamp"`
	Labels      map[string]string      `json:"labels"`
	Annotations map[string]interface{} `json:"annotations"`
	Resolved    bool                   `json:"resolved"`
	ResolvedAt  *time.Time             `json:"resolved_at,omitempty"`
}

// AlertManager manages alerts and notifications
type AlertManager struct {
	alerts    map[string]*Alert
	mutex     sync.RWMutex
	logger    *logrus.Logger
	rules     []AlertRule
	notifiers []Notifier
	ctx       context.Context
	cancel    context.CancelFunc
}

// AlertRule defines a rule for generating alerts
type AlertRule struct {
	Name        string
	Type        AlertType
	Severity    AlertSeverity
	Condition   func() bool
	Title       string
	Description string
	Labels      map[string]string
	Enabled     bool
	Interval    time.Duration
}

// Notifier interface for sending alert notifications
type Notifier interface {
	Send(alert *Alert) error
	Name() string
}

// LogNotifier sends alerts to the log
type LogNotifier struct {
	logger *logrus.Logger
}

func (n *LogNotifier) Name() string {
	return "log"
}

func (n *LogNotifier) Send(alert *Alert) error {
	level := logrus.InfoLevel
	switch alert.Severity {
	case SeverityHigh:
		level = logrus.WarnLevel
	case SeverityCritical:
		level = logrus.ErrorLevel
	}

	n.logger.WithFields(logrus.Fields{
		"alert_id":    alert.ID,
		"alert_type":  alert.Type,
		"severity":    alert.Severity,
		"labels":      alert.Labels,
		"annotations": alert.Annotations,
	}).Log(level, fmt.Sprintf("ALERT: %s - %s", alert.Title, alert.Description))

	return nil
}

// NewLogNotifier creates a new log notifier
func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// WebhookNotifier posts alerts as JSON to an external endpoint
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a notifier that posts alerts to the given URL
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *WebhookNotifier) Name() string {
	return "webhook"
}

func (n *WebhookNotifier) Send(alert *Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	resp, err := n.client.Post(n.url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to post alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("alert webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// healthWindow accumulates pipeline outcomes between rule evaluations.
// Rate conditions snapshot and reset it so each evaluation sees a fresh window.
type healthWindow struct {
	mu              sync.Mutex
	sourceOK        int
	sourceFailed    int
	llmOK           int
	llmFailed       int
	datastoreErrors int
	pendingAnalysis int
}

var health healthWindow

// TrackSourceResult records the outcome of a single search or feed fetch
func TrackSourceResult(ok bool) {
	health.mu.Lock()
	defer health.mu.Unlock()
	if ok {
		health.sourceOK++
	} else {
		health.sourceFailed++
	}
}

// TrackLLMResult records the outcome of a single LLM analysis call
func TrackLLMResult(ok bool) {
	health.mu.Lock()
	defer health.mu.Unlock()
	if ok {
		health.llmOK++
	} else {
		health.llmFailed++
	}
}

// TrackDatastoreError records a failed datastore operation
func TrackDatastoreError() {
	health.mu.Lock()
	defer health.mu.Unlock()
	health.datastoreErrors++
}

// TrackAnalysisBacklog records the current number of articles awaiting analysis
func TrackAnalysisBacklog(pending int) {
	health.mu.Lock()
	defer health.mu.Unlock()
	health.pendingAnalysis = pending
}

func sourceFailureCondition() bool {
	health.mu.Lock()
	defer health.mu.Unlock()
	total := health.sourceOK + health.sourceFailed
	if total < minWindowSamples {
		return false
	}
	rate := float64(health.sourceFailed) / float64(total)
	health.sourceOK, health.sourceFailed = 0, 0
	return rate >= failureRateThreshold
}

func llmFailureCondition() bool {
	health.mu.Lock()
	defer health.mu.Unlock()
	total := health.llmOK + health.llmFailed
	if total < minWindowSamples {
		return false
	}
	rate := float64(health.llmFailed) / float64(total)
	health.llmOK, health.llmFailed = 0, 0
	return rate >= failureRateThreshold
}

func analysisBacklogCondition() bool {
	health.mu.Lock()
	defer health.mu.Unlock()
	return health.pendingAnalysis > backlogAlertThreshold
}

func datastoreErrorCondition() bool {
	health.mu.Lock()
	defer health.mu.Unlock()
	triggered := health.datastoreErrors >= datastoreErrorThreshold
	health.datastoreErrors = 0
	return triggered
}

// NewAlertManager creates a new alert manager
func NewAlertManager(logger *logrus.Logger) *AlertManager {
	ctx, cancel := context.WithCancel(context.Background())

	am := &AlertManager{
		alerts:    make(map[string]*Alert),
		logger:    logger,
		rules:     getDefaultAlertRules(),
		notifiers: []Notifier{NewLogNotifier(logger)},
		ctx:       ctx,
		cancel:    cancel,
	}

	// Start alert evaluation loop
	go am.evaluateRules()

	return am
}

// getDefaultAlertRules returns default alert rules for the news monitor backend
func getDefaultAlertRules() []AlertRule {
	return []AlertRule{
		{
			Name:        "High Source Failure Rate",
			Type:        AlertTypeSourceFailure,
			Severity:    SeverityHigh,
			Condition:   sourceFailureCondition,
			Title:       "High news source failure rate detected",
			Description: "More than half of recent search and feed fetches have failed",
			Labels:      map[string]string{"service": "news-monitor-backend"},
			Enabled:     true,
			Interval:    time.Minute * 5,
		},
		{
			Name:        "High LLM Failure Rate",
			Type:        AlertTypeLLMFailure,
			Severity:    SeverityHigh,
			Condition:   llmFailureCondition,
			Title:       "High LLM analysis failure rate detected",
			Description: "More than half of recent LLM analysis calls have failed",
			Labels:      map[string]string{"service": "news-monitor-backend"},
			Enabled:     true,
			Interval:    time.Minute * 5,
		},
		{
			Name:        "Analysis Backlog Growing",
			Type:        AlertTypeAnalysisBacklog,
			Severity:    SeverityMedium,
			Condition:   analysisBacklogCondition,
			Title:       "Article analysis backlog is growing",
			Description: "The number of articles awaiting AI analysis has exceeded the threshold",
			Labels:      map[string]string{"service": "news-monitor-backend"},
			Enabled:     true,
			Interval:    time.Minute * 10,
		},
		{
			Name:        "Datastore Errors",
			Type:        AlertTypeDatastoreError,
			Severity:    SeverityHigh,
			Condition:   datastoreErrorCondition,
			Title:       "Datastore operation failures detected",
			Description: "Multiple datastore operations have failed",
			Labels:      map[string]string{"service": "news-monitor-backend"},
			Enabled:     true,
			Interval:    time.Minute * 3,
		},
	}
}

// evaluateRules runs the alert evaluation loop
func (am *AlertManager) evaluateRules() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-am.ctx.Done():
			return
		case <-ticker.C:
			am.evaluateAllRules()
		}
	}
}

// evaluateAllRules evaluates all enabled alert rules
func (am *AlertManager) evaluateAllRules() {
	am.mutex.RLock()
	rules := make([]AlertRule, len(am.rules))
	copy(rules, am.rules)
	am.mutex.RUnlock()

	for _, rule := range rules {
		if rule.Enabled && rule.Condition() {
			am.triggerAlert(rule)
		}
	}
}

// triggerAlert creates and sends an alert
func (am *AlertManager) triggerAlert(rule AlertRule) {
	alertID := fmt.Sprintf("%s-%d", rule.Type, time.Now().Unix())

	alert := &Alert{
		ID:          alertID,
		Type:        rule.Type,
		Severity:    rule.Severity,
		Title:       rule.Title,
		Description: rule.Description,
		Timestamp:   time.Now(),
		Labels:      rule.Labels,
		Annotations: make(map[string]interface{}),
		Resolved:    false,
	}

	am.mutex.Lock()
	// Check if we already have an active alert of this type
	for _, existingAlert := range am.alerts {
		if existingAlert.Type == rule.Type && !existingAlert.Resolved {
			am.mutex.Unlock()
			return // Alert already active
		}
	}
	am.alerts[alertID] = alert
	am.mutex.Unlock()

	am.sendNotifications(alert)
}

// sendNotifications sends the alert to all notifiers
func (am *AlertManager) sendNotifications(alert *Alert) {
	for _, notifier := range am.notifiers {
		if err := notifier.Send(alert); err != nil {
			am.logger.WithError(err).WithField("notifier", notifier.Name()).Error("Failed to send alert notification")
		}
	}
}

// TriggerManualAlert manually triggers an alert
func (am *AlertManager) TriggerManualAlert(alertType AlertType, severity AlertSeverity, title, description string, labels map[string]string) {
	alertID := fmt.Sprintf("%s-%d", alertType, time.Now().Unix())

	alert := &Alert{
		ID:          alertID,
		Type:        alertType,
		Severity:    severity,
		Title:       title,
		Description: description,
		Timestamp:   time.Now(),
		Labels:      labels,
		Annotations: make(map[string]interface{}),
		Resolved:    false,
	}

	am.mutex.Lock()
	am.alerts[alertID] = alert
	am.mutex.Unlock()

	am.sendNotifications(alert)
}

// ResolveAlert resolves an alert
func (am *AlertManager) ResolveAlert(alertID string) {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	if alert, exists := am.alerts[alertID]; exists {
		now := time.Now()
		alert.Resolved = true
		alert.ResolvedAt = &now

		am.logger.WithFields(logrus.Fields{
			"alert_id": alertID,
			"type":     alert.Type,
		}).Info("Alert resolved")
	}
}

// GetActiveAlerts returns all active (unresolved) alerts
func (am *AlertManager) GetActiveAlerts() []*Alert {
	am.mutex.RLock()
	defer am.mutex.RUnlock()

	var activeAlerts []*Alert
	for _, alert := range am.alerts {
		if !alert.Resolved {
			activeAlerts = append(activeAlerts, alert)
		}
	}

	return activeAlerts
}

// AddNotifier adds a new notifier
func (am *AlertManager) AddNotifier(notifier Notifier) {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	am.notifiers = append(am.notifiers, notifier)
}

// UpdateRuleCondition updates the condition function for a rule
func (am *AlertManager) UpdateRuleCondition(ruleName string, condition func() bool) {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	for i, rule := range am.rules {
		if rule.Name == ruleName {
			am.rules[i].Condition = condition
			break
		}
	}
}

// Stop stops the alert manager
func (am *AlertManager) Stop() {
	am.cancel()
}
