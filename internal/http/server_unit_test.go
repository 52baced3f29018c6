package http

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jagruk/preparedness/internal/alerts"
	"jagruk/preparedness/internal/apperr"
	"jagruk/preparedness/internal/auth"
	"jagruk/preparedness/internal/dashboard"
	"jagruk/preparedness/internal/drills"
	"jagruk/preparedness/internal/memstore"
	"jagruk/preparedness/internal/progress"
	"jagruk/preparedness/internal/realtime"
	"jagruk/preparedness/internal/rooms"
	"jagruk/preparedness/internal/roster"
)

const (
	testSecret = "test-secret"
	testIssuer = "preparedness-test"
)

func newTestAPI(t *testing.T) *httptest.Server {
	t.Helper()
	store := memstore.New()
	hub := rooms.NewHub(nil)
	rosterSvc := roster.NewService(store, nil)
	drillSvc := drills.NewService(store, rosterSvc, hub, nil)
	alertSvc := alerts.NewService(store, hub, nil, nil)
	progressSvc := progress.NewService(store, rosterSvc, hub, nil)
	svc := Services{
		Roster:    rosterSvc,
		Drills:    drillSvc,
		Alerts:    alertSvc,
		Progress:  progressSvc,
		Dashboard: dashboard.NewService(drillSvc, alertSvc, progressSvc, hub),
	}
	ws := realtime.NewServer(hub, hub, nil, realtime.Options{SendBuffer: 16, PingInterval: time.Second})
	server := NewServer(auth.NewVerifier(testSecret, testIssuer), svc, ws, nil)
	ts := httptest.NewServer(server.Router())
	t.Cleanup(func() {
		ts.Close()
		hub.Close()
	})
	return ts
}

func token(t *testing.T, userID, role, classID string) string {
	t.Helper()
	tok, err := auth.NewAccessToken(testSecret, testIssuer, time.Hour, auth.Claims{
		UserID:   userID,
		UserType: role,
		SchoolID: "S1",
		ClassID:  classID,
		Name:     userID,
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return tok
}

func call(t *testing.T, method, url, tok string, payload interface{}) (int, []byte) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp.StatusCode, data
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var resp errorResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode error body %s: %v", body, err)
	}
	return resp.Error
}

func TestHealthAndAuth(t *testing.T) {
	ts := newTestAPI(t)

	status, _ := call(t, http.MethodGet, ts.URL+"/health", "", nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	status, body := call(t, http.MethodGet, ts.URL+"/drills", "", nil)
	if status != http.StatusUnauthorized || errorCode(t, body) != apperr.CodeMissingToken {
		t.Fatalf("expected 401 missing_token, got %d %s", status, body)
	}
	status, body = call(t, http.MethodGet, ts.URL+"/drills", "garbage", nil)
	if status != http.StatusUnauthorized || errorCode(t, body) != apperr.CodeInvalidToken {
		t.Fatalf("expected 401 invalid_token, got %d %s", status, body)
	}
	status, _ = call(t, http.MethodGet, ts.URL+"/nope", "", nil)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", status)
	}
}

func TestStatusMapping(t *testing.T) {
	cases := map[apperr.Kind]int{
		apperr.KindUnauthorized:           http.StatusUnauthorized,
		apperr.KindForbidden:              http.StatusForbidden,
		apperr.KindNotFound:               http.StatusNotFound,
		apperr.KindValidationFailed:       http.StatusBadRequest,
		apperr.KindInvalidStateTransition: http.StatusConflict,
		apperr.KindAlreadyMarked:          http.StatusConflict,
		apperr.KindInternal:               http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := statusFor(kind); got != want {
			t.Fatalf("kind %s: expected %d, got %d", kind, want, got)
		}
	}
}

func TestDrillFlowOverHTTPAndWebsocket(t *testing.T) {
	ts := newTestAPI(t)
	adminTok := token(t, "admin-1", auth.RoleAdmin, "")
	studentTok := token(t, "A", auth.RoleStudent, "7a")

	for _, st := range []map[string]string{
		{"id": "A", "classId": "7a", "name": "Asha"},
		{"id": "B", "classId": "7a", "name": "Bilal"},
	} {
		status, body := call(t, http.MethodPost, ts.URL+"/students", adminTok, st)
		require.Equal(t, http.StatusCreated, status, string(body))
	}

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + studentTok
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.WriteJSON(map[string]string{"event": "join-school", "data": "S1"}))
	readEvent(t, conn, "joined")

	status, body := call(t, http.MethodPost, ts.URL+"/drills", adminTok, map[string]interface{}{
		"title":           "Fire drill",
		"description":     "Leave by the east stairs",
		"type":            "physical",
		"scheduledAt":     time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		"durationMinutes": 15,
		"targetClasses":   []string{"7a"},
	})
	require.Equal(t, http.StatusCreated, status, string(body))
	var drill drills.Drill
	require.NoError(t, json.Unmarshal(body, &drill))
	assert.ElementsMatch(t, []string{"A", "B"}, drill.Participants)
	readEvent(t, conn, "drill-scheduled")

	status, body = call(t, http.MethodPost, ts.URL+"/drills/"+drill.ID+"/checkin", studentTok, nil)
	require.Equal(t, http.StatusConflict, status)
	assert.Equal(t, apperr.CodeDrillNotActive, errorCode(t, body))

	status, _ = call(t, http.MethodPost, ts.URL+"/drills/"+drill.ID+"/start", studentTok, nil)
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = call(t, http.MethodPost, ts.URL+"/drills/"+drill.ID+"/start", adminTok, nil)
	require.Equal(t, http.StatusOK, status)
	readEvent(t, conn, "drill-started")

	status, body = call(t, http.MethodPost, ts.URL+"/drills/"+drill.ID+"/checkin", studentTok, map[string]string{"location": "gate 2"})
	require.Equal(t, http.StatusCreated, status, string(body))
	marked := readEvent(t, conn, "attendance-marked")
	assert.Equal(t, "A", marked["studentId"])

	status, body = call(t, http.MethodPost, ts.URL+"/drills/"+drill.ID+"/checkin", studentTok, nil)
	require.Equal(t, http.StatusConflict, status)
	assert.Equal(t, apperr.CodeAlreadyMarked, errorCode(t, body))

	status, body = call(t, http.MethodPut, ts.URL+"/drills/"+drill.ID+"/attendance/B", adminTok, map[string]interface{}{})
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, apperr.CodeValidationFailed, errorCode(t, body))

	status, _ = call(t, http.MethodPost, ts.URL+"/drills/"+drill.ID+"/complete", adminTok, nil)
	require.Equal(t, http.StatusOK, status)
	done := readEvent(t, conn, "drill-completed")
	assert.InDelta(t, 0.5, done["completionRate"], 1e-9)

	status, body = call(t, http.MethodGet, ts.URL+"/drills/"+drill.ID+"/records", adminTok, nil)
	require.Equal(t, http.StatusOK, status)
	var records []drills.AttendanceRecord
	require.NoError(t, json.Unmarshal(body, &records))
	require.Len(t, records, 1)
	assert.Equal(t, "gate 2", records[0].Location)

	status, _ = call(t, http.MethodGet, ts.URL+"/drills/missing", adminTok, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAlertEndpoints(t *testing.T) {
	ts := newTestAPI(t)
	staffTok := token(t, "staff-1", auth.RoleStaff, "")
	studentTok := token(t, "A", auth.RoleStudent, "7a")

	status, body := call(t, http.MethodPost, ts.URL+"/alerts", staffTok, map[string]string{
		"title": "Flood", "message": "Move to the first floor", "priority": "sideways",
	})
	require.Equal(t, http.StatusBadRequest, status)
	var verr errorResponse
	require.NoError(t, json.Unmarshal(body, &verr))
	assert.Contains(t, verr.Fields, "priority")

	status, body = call(t, http.MethodPost, ts.URL+"/alerts", staffTok, map[string]string{
		"title": "Flood", "message": "Move to the first floor", "priority": "critical",
	})
	require.Equal(t, http.StatusCreated, status, string(body))
	var alert alerts.Alert
	require.NoError(t, json.Unmarshal(body, &alert))

	status, _ = call(t, http.MethodPost, ts.URL+"/alerts/"+alert.ID+"/read", studentTok, nil)
	require.Equal(t, http.StatusOK, status)
	status, _ = call(t, http.MethodPost, ts.URL+"/alerts/"+alert.ID+"/dismiss", studentTok, nil)
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = call(t, http.MethodPost, ts.URL+"/alerts/"+alert.ID+"/dismiss", staffTok, nil)
	require.Equal(t, http.StatusOK, status)
	status, body = call(t, http.MethodPost, ts.URL+"/alerts/"+alert.ID+"/dismiss", staffTok, nil)
	require.Equal(t, http.StatusConflict, status)
	assert.Equal(t, apperr.CodeAlertDismissed, errorCode(t, body))

	status, body = call(t, http.MethodGet, ts.URL+"/alerts?active=true", staffTok, nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `[]`, string(body))
	status, _ = call(t, http.MethodGet, ts.URL+"/alerts?active=maybe", staffTok, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = call(t, http.MethodPost, ts.URL+"/alerts", staffTok, map[string]string{
		"title": "Wardens", "message": "Meet at gate B", "priority": "high", "audience": "staff",
	})
	require.Equal(t, http.StatusCreated, status, string(body))
	require.NoError(t, json.Unmarshal(body, &alert))
	status, body = call(t, http.MethodGet, ts.URL+"/alerts/"+alert.ID, studentTok, nil)
	require.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, apperr.CodeAlertNotFound, errorCode(t, body))
	status, _ = call(t, http.MethodPost, ts.URL+"/alerts/"+alert.ID+"/read", studentTok, nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = call(t, http.MethodGet, ts.URL+"/alerts/"+alert.ID, staffTok, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestModulesAndDashboard(t *testing.T) {
	ts := newTestAPI(t)
	studentTok := token(t, "A", auth.RoleStudent, "7a")
	otherTok := token(t, "B", auth.RoleStudent, "7a")

	status, body := call(t, http.MethodPost, ts.URL+"/modules/fire-101/complete", studentTok, map[string]int{"score": 88})
	require.Equal(t, http.StatusOK, status, string(body))

	status, body = call(t, http.MethodGet, ts.URL+"/students/A/modules", studentTok, nil)
	require.Equal(t, http.StatusOK, status)
	var list []progress.Completion
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)
	assert.Equal(t, 88, list[0].Score)

	status, _ = call(t, http.MethodGet, ts.URL+"/students/A/modules", otherTok, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, body = call(t, http.MethodGet, ts.URL+"/dashboard", studentTok, nil)
	require.Equal(t, http.StatusOK, status)
	var summary dashboard.Summary
	require.NoError(t, json.Unmarshal(body, &summary))
	require.NotNil(t, summary.Student)
	assert.Equal(t, 1, summary.Student.CompletedModules)
}

func TestWebsocketRejectsBadToken(t *testing.T) {
	ts := newTestAPI(t)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=nope"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatalf("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 before upgrade, got %+v", resp)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn, event string) map[string]interface{} {
	t.Helper()
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg rooms.Message
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Event != event {
			continue
		}
		data := map[string]interface{}{}
		if len(msg.Data) > 0 {
			require.NoError(t, json.Unmarshal(msg.Data, &data))
		}
		return data
	}
}
