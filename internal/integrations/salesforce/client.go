// Package salesforce reads failed deployment work items and their log
// attachments from the case tracker.
package salesforce

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"failurebot/internal/domain"
)

type Config struct {
	LoginURL           string
	Username           string
	Password           string
	SecurityToken      string
	APIVersion         string
	MaxAttachmentBytes int64
}

type Attachment struct {
	ID               string `json:"Id"`
	Name             string `json:"Name"`
	BodyLength       int64  `json:"BodyLength"`
	ContentType      string `json:"ContentType"`
	LastModifiedDate string `json:"LastModifiedDate"`
}

// WorkRecord is one failed work item with its attachments.
type WorkRecord struct {
	ID          string
	Subject     string
	Attachments []Attachment
}

// Client holds one session and logs in again once when it expires.
type Client struct {
	cfg  Config
	http *http.Client

	mu          sync.Mutex
	sessionID   string
	instanceURL string
}

func NewClient(cfg Config, httpClient *http.Client) *Client {
	if cfg.APIVersion == "" {
		cfg.APIVersion = "v59.0"
	}
	if !strings.HasPrefix(cfg.APIVersion, "v") {
		cfg.APIVersion = "v" + cfg.APIVersion
	}
	cfg.LoginURL = strings.TrimRight(cfg.LoginURL, "/")
	return &Client{cfg: cfg, http: httpClient}
}

var (
	sessionIDRe   = regexp.MustCompile(`<sessionId>([^<]+)</sessionId>`)
	serverURLRe   = regexp.MustCompile(`<serverUrl>([^<]+)</serverUrl>`)
	faultStringRe = regexp.MustCompile(`<faultstring>([^<]+)</faultstring>`)
	stepNameRe    = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

const loginEnvelope = `<?xml version="1.0" encoding="utf-8"?>
<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" xmlns:urn="urn:partner.soap.sforce.com">
  <soapenv:Header/>
  <soapenv:Body>
    <urn:login>
      <urn:username>%s</urn:username>
      <urn:password>%s</urn:password>
    </urn:login>
  </soapenv:Body>
</soapenv:Envelope>`

// Login opens a session through the SOAP partner API. Any failure is a
// *domain.ImportAuthError.
func (c *Client) Login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loginLocked(ctx)
}

func (c *Client) loginLocked(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/services/Soap/u/%s", c.cfg.LoginURL, strings.TrimPrefix(c.cfg.APIVersion, "v"))
	body := fmt.Sprintf(loginEnvelope, xmlEscape(c.cfg.Username), xmlEscape(c.cfg.Password+c.cfg.SecurityToken))

	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, strings.NewReader(body))
	if err != nil {
		return &domain.ImportAuthError{Err: fmt.Errorf("creating login request: %w", err)}
	}
	req.Header.Set("Content-Type", "text/xml; charset=UTF-8")
	req.Header.Set("SOAPAction", "login")

	resp, err := c.http.Do(req)
	if err != nil {
		return &domain.ImportAuthError{Err: fmt.Errorf("login request: %w", err)}
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.ImportAuthError{Err: fmt.Errorf("reading login response: %w", err)}
	}

	session := sessionIDRe.FindSubmatch(respBody)
	server := serverURLRe.FindSubmatch(respBody)
	if session == nil || server == nil {
		reason := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if fault := faultStringRe.FindSubmatch(respBody); fault != nil {
			reason = string(fault[1])
		}
		return &domain.ImportAuthError{Err: fmt.Errorf("login rejected: %s", reason)}
	}

	serverURL := string(server[1])
	i := strings.Index(serverURL, "/services")
	if i < 0 {
		return &domain.ImportAuthError{Err: fmt.Errorf("unexpected serverUrl %q", serverURL)}
	}
	c.sessionID = string(session[1])
	c.instanceURL = serverURL[:i]
	log.Printf("salesforce login ok instance=%s", c.instanceURL)
	return nil
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

// session returns the current credentials, logging in first if needed.
// With renew set it discards the current session before logging in.
func (c *Client) session(ctx context.Context, renew bool) (string, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if renew {
		c.sessionID, c.instanceURL = "", ""
	}
	if c.sessionID == "" {
		if err := c.loginLocked(ctx); err != nil {
			return "", "", err
		}
	}
	return c.sessionID, c.instanceURL, nil
}

var errUnauthorized = errors.New("session expired")

// get issues an authenticated GET against path on the instance and retries
// once with a fresh session on 401. The caller closes the body.
func (c *Client) get(ctx context.Context, path, accept string) (*http.Response, error) {
	for attempt := 0; attempt < 2; attempt++ {
		sessionID, instanceURL, err := c.session(ctx, attempt > 0)
		if err != nil {
			return nil, err
		}
		target := path
		if !strings.HasPrefix(path, "http") {
			target = instanceURL + path
		}
		req, err := http.NewRequestWithContext(ctx, "GET", target, nil)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+sessionID)
		req.Header.Set("Accept", accept)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("salesforce request: %w", err)
		}
		if resp.StatusCode == http.StatusUnauthorized {
			resp.Body.Close()
			log.Printf("salesforce session expired, logging in again")
			continue
		}
		if resp.StatusCode != http.StatusOK {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return nil, fmt.Errorf("salesforce HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
		}
		return resp, nil
	}
	return nil, &domain.ImportAuthError{Err: errUnauthorized}
}

const attachmentQuery = `SELECT Id, WorkId_and_Subject__c, (SELECT Id, Name, BodyLength, ContentType, LastModifiedDate FROM Attachments) FROM ADM_Work__c WHERE `

func (c *Client) FailedAttachmentsByStep(ctx context.Context, stepName string) ([]WorkRecord, error) {
	if !stepNameRe.MatchString(stepName) {
		return nil, fmt.Errorf("invalid step name %q", stepName)
	}
	log.Printf("salesforce query failed step=%s", stepName)
	return c.query(ctx, attachmentQuery+fmt.Sprintf("Subject__c LIKE 'Step: %s%%Status: FAILED%%PMD/IR%%'", stepName))
}

func (c *Client) FailedAttachmentsByCase(ctx context.Context, caseNumber int) ([]WorkRecord, error) {
	if caseNumber <= 0 {
		return nil, fmt.Errorf("invalid case number %d", caseNumber)
	}
	log.Printf("salesforce query failed case=%d", caseNumber)
	return c.query(ctx, attachmentQuery+fmt.Sprintf("WorkId_and_Subject__c LIKE '%%Status: FAILED%%Case: %d%%PMD/IR%%'", caseNumber))
}

type queryResponse struct {
	Done           bool   `json:"done"`
	NextRecordsURL string `json:"nextRecordsUrl"`
	Records        []struct {
		ID          string `json:"Id"`
		Subject     string `json:"WorkId_and_Subject__c"`
		Attachments *struct {
			Records []Attachment `json:"records"`
		} `json:"Attachments"`
	} `json:"records"`
}

func (c *Client) query(ctx context.Context, soql string) ([]WorkRecord, error) {
	path := fmt.Sprintf("/services/data/%s/query/?q=%s", c.cfg.APIVersion, url.QueryEscape(soql))
	var out []WorkRecord
	for path != "" {
		resp, err := c.get(ctx, path, "application/json")
		if err != nil {
			return nil, err
		}
		var page queryResponse
		err = json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("parsing query response: %w", err)
		}
		for _, r := range page.Records {
			rec := WorkRecord{ID: r.ID, Subject: r.Subject}
			if r.Attachments != nil {
				rec.Attachments = r.Attachments.Records
			}
			out = append(out, rec)
		}
		path = ""
		if !page.Done && page.NextRecordsURL != "" {
			path = page.NextRecordsURL
		}
	}
	log.Printf("salesforce query returned records=%d", len(out))
	return out, nil
}

// DownloadAttachment fetches an attachment body, refusing bodies larger
// than MaxAttachmentBytes.
func (c *Client) DownloadAttachment(ctx context.Context, attachmentID string) ([]byte, error) {
	path := fmt.Sprintf("/services/data/%s/sobjects/Attachment/%s/Body", c.cfg.APIVersion, url.PathEscape(attachmentID))
	resp, err := c.get(ctx, path, "application/octet-stream")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	limit := c.cfg.MaxAttachmentBytes
	if limit <= 0 {
		limit = 50 << 20
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("reading attachment %s: %w", attachmentID, err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("attachment %s exceeds %d bytes", attachmentID, limit)
	}
	return body, nil
}
