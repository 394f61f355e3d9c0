package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/dsmaudit/dsmaudit/internal/archive"
	"github.com/dsmaudit/dsmaudit/internal/audit"
	"github.com/dsmaudit/dsmaudit/internal/control"
	"github.com/dsmaudit/dsmaudit/internal/httpserver"
	"github.com/dsmaudit/dsmaudit/internal/syno"
)

const (
	mockAccount  = "auditor"
	mockPassword = "secret"
	mockSID      = "e2e-session"
)

// mockDSM serves just enough of the DSM WebAPI for a full collection:
// session auth, both audit logs with paging, and the user directory.
type mockDSM struct {
	mu      sync.Mutex
	system  []map[string]any
	file    []map[string]any
	users   []map[string]any
	logins  int
	logouts int
}

func (m *mockDSM) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/webapi/auth.cgi", m.handleAuth)
	mux.HandleFunc("/webapi/entry.cgi", m.handleEntry)
	return mux
}

func (m *mockDSM) handleAuth(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	switch q.Get("method") {
	case "login":
		if q.Get("account") != mockAccount || q.Get("passwd") != mockPassword {
			writeDSM(w, map[string]any{"success": false, "error": map[string]any{"code": 400}})
			return
		}
		m.mu.Lock()
		m.logins++
		m.mu.Unlock()
		writeDSM(w, map[string]any{"success": true, "data": map[string]any{"sid": mockSID}})
	case "logout":
		m.mu.Lock()
		m.logouts++
		m.mu.Unlock()
		writeDSM(w, map[string]any{"success": true})
	default:
		writeDSM(w, map[string]any{"success": false, "error": map[string]any{"code": 101}})
	}
}

func (m *mockDSM) handleEntry(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("_sid") != mockSID {
		writeDSM(w, map[string]any{"success": false, "error": map[string]any{"code": 119}})
		return
	}

	switch q.Get("api") {
	case "SYNO.Core.SyslogClient.Log":
		m.mu.Lock()
		rows := m.system
		if q.Get("logtype") == syno.LogTypeFileStation {
			rows = m.file
		}
		m.mu.Unlock()

		offset, _ := strconv.Atoi(q.Get("offset"))
		limit, _ := strconv.Atoi(q.Get("limit"))
		writeDSM(w, map[string]any{
			"success": true,
			"data":    map[string]any{"items": pageOf(rows, offset, limit), "total": len(rows)},
		})
	case "SYNO.Core.User":
		m.mu.Lock()
		users := m.users
		m.mu.Unlock()
		writeDSM(w, map[string]any{"success": true, "data": map[string]any{"users": users}})
	default:
		writeDSM(w, map[string]any{"success": false, "error": map[string]any{"code": 102}})
	}
}

func writeDSM(w http.ResponseWriter, payload map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func pageOf(rows []map[string]any, offset, limit int) []map[string]any {
	if offset >= len(rows) {
		return []map[string]any{}
	}
	end := offset + limit
	if end > len(rows) {
		end = len(rows)
	}
	return rows[offset:end]
}

func systemFixture(n int) []map[string]any {
	levels := []string{"info", "warn", "error"}
	rows := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, map[string]any{
			"level": levels[i%len(levels)],
			"time":  fmt.Sprintf("2025/06/01 10:%02d:00", i%60),
			"who":   "admin",
			"descr": fmt.Sprintf("System event %d", i),
		})
	}
	return rows
}

func fileFixture(n int, user string) []map[string]any {
	rows := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, map[string]any{
			"time":     fmt.Sprintf("2025/06/01 11:%02d:00", i%60),
			"ip":       "10.0.0.8",
			"username": user,
			"cmd":      "upload",
			"isdir":    "false",
			"filesize": "1 KB",
			"descr":    fmt.Sprintf("/share/doc-%d.txt", i),
		})
	}
	return rows
}

// e2eCollector pulls the mock NAS and archives the result, standing in
// for the serve daemon behind the control socket.
type e2eCollector struct {
	host  string
	port  int
	store *archive.Store
	mu    sync.Mutex
}

func (c *e2eCollector) CollectNow() (control.CollectResult, error) {
	var res control.CollectResult
	if !c.mu.TryLock() {
		return res, fmt.Errorf("collection already in progress")
	}
	defer c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := syno.NewClient(syno.Config{Host: c.host, Port: c.port})
	if err := client.Login(ctx, mockAccount, mockPassword, ""); err != nil {
		return res, err
	}
	defer func() { _ = client.Logout(context.Background()) }()

	rawSystem, err := client.SystemLogs(ctx)
	if err != nil {
		return res, err
	}
	rawFile, err := client.FileStationLogs(ctx)
	if err != nil {
		return res, err
	}

	system := make([]audit.SystemEntry, 0, len(rawSystem))
	for _, rec := range rawSystem {
		entry, err := audit.NormalizeSystem(rec)
		if err != nil {
			return res, err
		}
		system = append(system, entry)
	}
	file := make([]audit.FileEntry, 0, len(rawFile))
	for _, rec := range rawFile {
		file = append(file, audit.NormalizeFile(rec))
	}

	runID := fmt.Sprintf("e2e-%d", time.Now().UnixNano())
	if err := c.store.BeginRun(runID, time.Now()); err != nil {
		return res, err
	}
	if err := c.store.InsertSystemEntries(runID, system); err != nil {
		return res, err
	}
	if err := c.store.InsertFileEntries(runID, file); err != nil {
		return res, err
	}
	if err := c.store.FinishRun(runID, time.Now(), len(system), len(file), archive.RunCompleted); err != nil {
		return res, err
	}

	return control.CollectResult{RunID: runID, SystemCount: len(system), FileCount: len(file)}, nil
}

func (c *e2eCollector) Status() (control.StatusInfo, error) {
	count, err := c.store.TotalRecordCount()
	if err != nil {
		return control.StatusInfo{}, err
	}
	return control.StatusInfo{Version: "e2e", PID: os.Getpid(), RecordCount: count}, nil
}

func (c *e2eCollector) RecentRuns(limit int) ([]archive.RunInfo, error) {
	if limit <= 0 {
		limit = 10
	}
	return c.store.Runs(limit)
}

type e2eStack struct {
	dsm     *mockDSM
	nas     *httptest.Server
	store   *archive.Store
	api     *httpserver.Server
	ctrl    *control.Server
	apiAddr string
	sock    string
}

func startE2EStack(t *testing.T, dsm *mockDSM) *e2eStack {
	t.Helper()

	nas := httptest.NewServer(dsm.handler())

	nasURL, err := neturlHostPort(nas.URL)
	if err != nil {
		t.Fatalf("parse mock NAS url: %v", err)
	}

	dbPath := filepath.Join(t.TempDir(), "dsmaudit-e2e.duckdb")
	store, err := archive.NewStore(dbPath, 5*time.Second)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	api := httpserver.NewServer("127.0.0.1:0", store)
	if err := api.Start(); err != nil {
		t.Fatalf("http Start: %v", err)
	}

	collector := &e2eCollector{host: nasURL.host, port: nasURL.port, store: store}
	sock := filepath.Join(os.TempDir(), fmt.Sprintf("dsmaudit-e2e-%d.sock", time.Now().UnixNano()))
	ctrl := control.NewServer(sock, collector)
	if err := ctrl.Start(); err != nil {
		t.Fatalf("control Start: %v", err)
	}

	stack := &e2eStack{
		dsm:     dsm,
		nas:     nas,
		store:   store,
		api:     api,
		ctrl:    ctrl,
		apiAddr: api.Addr(),
		sock:    sock,
	}

	waitEventually(t, 3*time.Second, 20*time.Millisecond, func() bool {
		resp, err := http.Get("http://" + stack.apiAddr + "/api/health")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, "api health endpoint did not become ready")

	waitEventually(t, 3*time.Second, 20*time.Millisecond, func() bool {
		c, err := control.Dial(stack.sock)
		if err != nil {
			return false
		}
		_ = c.Close()
		return true
	}, "control socket did not become ready")

	t.Cleanup(func() {
		stack.ctrl.Stop()
		_ = stack.api.Stop()
		_ = stack.store.Close()
		stack.nas.Close()
	})

	return stack
}

type hostPort struct {
	host string
	port int
}

func neturlHostPort(raw string) (hostPort, error) {
	var hp hostPort
	u, err := url.Parse(raw)
	if err != nil {
		return hp, err
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		return hp, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return hp, err
	}
	hp.host = host
	hp.port = port
	return hp, nil
}

func waitEventually(t *testing.T, timeout, interval time.Duration, condition func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if condition() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("eventually timeout: %s", msg)
		}
		time.Sleep(interval)
	}
}

type sqlResponse struct {
	Columns  []string         `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
}

func postSQL(addr, sql string) (int, sqlResponse, error) {
	var out sqlResponse
	body, err := json.Marshal(map[string]string{"sql": sql})
	if err != nil {
		return 0, out, err
	}
	url := "http://" + addr + "/api/query"
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, out, err
	}
	req.Header.Set("Content-Type", "application/json")
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return 0, out, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, out, err
	}
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return resp.StatusCode, out, err
	}
	return resp.StatusCode, out, nil
}

func getJSON(t *testing.T, addr, path string, dest any) {
	t.Helper()
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + addr + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s status=%d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
}

func rowCount(t *testing.T, row map[string]any, key string) int64 {
	t.Helper()
	switch v := row[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	default:
		t.Fatalf("unexpected count type %T in row %#v", v, row)
		return 0
	}
}

func TestE2E_CollectToHTTPAndControl(t *testing.T) {
	dsm := &mockDSM{
		system: systemFixture(3),
		file:   fileFixture(2, "admin"),
		users: []map[string]any{
			{"name": "admin", "description": "NAS Admin", "email": "admin@example.com"},
		},
	}
	stack := startE2EStack(t, dsm)

	client, err := control.Dial(stack.sock)
	if err != nil {
		t.Fatalf("control dial: %v", err)
	}
	defer client.Close()

	res, err := client.CollectNow()
	if err != nil {
		t.Fatalf("CollectNow: %v", err)
	}
	if res.SystemCount != 3 || res.FileCount != 2 {
		t.Fatalf("collected %d system and %d file records, want 3 and 2", res.SystemCount, res.FileCount)
	}

	// The session must be opened and closed exactly once per pull.
	dsm.mu.Lock()
	logins, logouts := dsm.logins, dsm.logouts
	dsm.mu.Unlock()
	if logins != 1 || logouts != 1 {
		t.Fatalf("logins=%d logouts=%d, want 1 and 1", logins, logouts)
	}

	st, err := client.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.RecordCount != 5 {
		t.Fatalf("RecordCount = %d, want 5", st.RecordCount)
	}

	runs, err := client.RecentRuns(10)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != archive.RunCompleted {
		t.Fatalf("unexpected runs: %+v", runs)
	}

	var logsResp struct {
		Count int `json:"count"`
	}
	getJSON(t, stack.apiAddr, "/api/logs?source=System", &logsResp)
	if logsResp.Count != 3 {
		t.Fatalf("system logs count = %d, want 3", logsResp.Count)
	}

	var sevResp struct {
		Counts map[string]int64 `json:"counts"`
	}
	getJSON(t, stack.apiAddr, "/api/severity", &sevResp)
	if sevResp.Counts["Information"] != 1 || sevResp.Counts["Warning"] != 1 || sevResp.Counts["Error"] != 1 {
		t.Fatalf("unexpected severity counts: %v", sevResp.Counts)
	}

	var rankResp struct {
		Users []archive.UserCount `json:"users"`
	}
	getJSON(t, stack.apiAddr, "/api/rankings?operation=Upload", &rankResp)
	if len(rankResp.Users) != 1 || rankResp.Users[0].Username != "admin" || rankResp.Users[0].Count != 2 {
		t.Fatalf("unexpected rankings: %+v", rankResp.Users)
	}

	code, resp, err := postSQL(stack.apiAddr, "SELECT source, COUNT(*) AS c FROM audit_log GROUP BY source ORDER BY source")
	if err != nil {
		t.Fatalf("postSQL: %v", err)
	}
	if code != http.StatusOK {
		t.Fatalf("postSQL status=%d", code)
	}
	if len(resp.Rows) != 2 {
		t.Fatalf("unexpected rows: %+v", resp.Rows)
	}
	bySource := make(map[string]int64, len(resp.Rows))
	for _, row := range resp.Rows {
		source, ok := row["source"].(string)
		if !ok {
			t.Fatalf("row missing source string: %#v", row)
		}
		bySource[source] = rowCount(t, row, "c")
	}
	if bySource[audit.SourceSystem] != 3 || bySource[audit.SourceFileStation] != 2 {
		t.Fatalf("unexpected source counts: %v", bySource)
	}
}

func TestE2E_PagedCollection_NoLoss(t *testing.T) {
	// Three pages at the default page size plus a short tail.
	const total = 2500
	dsm := &mockDSM{
		system: systemFixture(total),
		file:   []map[string]any{},
		users:  []map[string]any{{"name": "admin"}},
	}
	stack := startE2EStack(t, dsm)

	client, err := control.Dial(stack.sock)
	if err != nil {
		t.Fatalf("control dial: %v", err)
	}
	defer client.Close()

	res, err := client.CollectNow()
	if err != nil {
		t.Fatalf("CollectNow: %v", err)
	}
	if res.SystemCount != total {
		t.Fatalf("collected %d system records, want %d", res.SystemCount, total)
	}

	count, err := stack.store.TotalRecordCount()
	if err != nil {
		t.Fatalf("TotalRecordCount: %v", err)
	}
	if count != total {
		t.Fatalf("archived %d records, want %d", count, total)
	}
}

func TestE2E_ConcurrentReadsDuringCollect(t *testing.T) {
	dsm := &mockDSM{
		system: systemFixture(4000),
		file:   fileFixture(1000, "admin"),
		users:  []map[string]any{{"name": "admin"}},
	}
	stack := startE2EStack(t, dsm)

	var wg sync.WaitGroup
	errCh := make(chan error, 64)

	collectDone := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(collectDone)
		client, err := control.Dial(stack.sock)
		if err != nil {
			errCh <- fmt.Errorf("control dial: %w", err)
			return
		}
		defer client.Close()
		if _, err := client.CollectNow(); err != nil {
			errCh <- fmt.Errorf("CollectNow: %w", err)
		}
	}()

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-collectDone:
					return
				default:
				}
				code, _, err := postSQL(stack.apiAddr, "SELECT COUNT(*) AS c FROM audit_log")
				if err != nil {
					errCh <- fmt.Errorf("http query error: %w", err)
					return
				}
				if code != http.StatusOK {
					errCh <- fmt.Errorf("http status=%d", code)
					return
				}
			}
		}()
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			t.Fatalf("concurrent read failure: %v", err)
		}
	}

	count, err := stack.store.TotalRecordCount()
	if err != nil {
		t.Fatalf("TotalRecordCount: %v", err)
	}
	if count != 5000 {
		t.Fatalf("final count=%d want=5000", count)
	}
}
