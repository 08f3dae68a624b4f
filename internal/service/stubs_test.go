package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/noah-isme/training-admin-api/internal/models"
	"github.com/noah-isme/training-admin-api/internal/repository"
	appErrors "github.com/noah-isme/training-admin-api/pkg/errors"
	"github.com/noah-isme/training-admin-api/pkg/export"
	"github.com/noah-isme/training-admin-api/pkg/notify"
)

// memDB is an in-memory stand-in for the relational store shared by the
// repository stubs below.
type memDB struct {
	mu          sync.Mutex
	seq         int
	enrollments map[string]models.EnrollmentDetail
	events      map[string]models.AttendanceEvent
	payments    map[string]models.Payment
	certs       map[string]models.Certificate

	paymentStateErrs  []error
	paymentStateCalls int
	presenceErr       error
	presenceWrites    int

	// malformedIDs are rejected the way postgres rejects a non-UUID literal.
	malformedIDs map[string]bool
}

func newMemDB() *memDB {
	return &memDB{
		enrollments:  map[string]models.EnrollmentDetail{},
		events:       map[string]models.AttendanceEvent{},
		payments:     map[string]models.Payment{},
		certs:        map[string]models.Certificate{},
		malformedIDs: map[string]bool{},
	}
}

func (db *memDB) checkID(id string) error {
	if db.malformedIDs[id] {
		return fmt.Errorf("pq: invalid input syntax for type uuid: %w", &pq.Error{Code: "22P02"})
	}
	return nil
}

func (db *memDB) nextID(prefix string) string {
	db.seq++
	return fmt.Sprintf("%s-%d", prefix, db.seq)
}

func (db *memDB) addEnrollment(id string, mutate ...func(*models.EnrollmentDetail)) models.EnrollmentDetail {
	db.mu.Lock()
	defer db.mu.Unlock()
	e := models.EnrollmentDetail{
		Enrollment: models.Enrollment{
			ID:                 id,
			ParticipantID:      "participant-" + id,
			SessionID:          "session-1",
			RegistrationStatus: models.RegistrationStatusPending,
			PaymentStatus:      models.EnrollmentPaymentUnpaid,
		},
		ParticipantName:  "Ayu Lestari",
		ParticipantEmail: "ayu@example.com",
		SessionTitle:     "Go Fundamentals",
	}
	for _, m := range mutate {
		m(&e)
	}
	db.enrollments[id] = e
	return e
}

func (db *memDB) addPayment(p models.Payment) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.payments[p.ID] = p
}

func (db *memDB) enrollment(id string) models.EnrollmentDetail {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.enrollments[id]
}

func (db *memDB) payment(id string) models.Payment {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.payments[id]
}

type enrollmentStub struct{ db *memDB }

func (s enrollmentStub) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []models.EnrollmentDetail
	for _, e := range s.db.enrollments {
		if filter.SessionID != "" && e.SessionID != filter.SessionID {
			continue
		}
		if filter.PaymentStatus != "" && e.PaymentStatus != filter.PaymentStatus {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (s enrollmentStub) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	e, ok := s.db.enrollments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &e.Enrollment, nil
}

func (s enrollmentStub) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	e, ok := s.db.enrollments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &e, nil
}

func (s enrollmentStub) Exists(ctx context.Context, participantID, sessionID string) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, e := range s.db.enrollments {
		if e.ParticipantID == participantID && e.SessionID == sessionID {
			return true, nil
		}
	}
	return false, nil
}

func (s enrollmentStub) Create(ctx context.Context, enrollment *models.Enrollment) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if enrollment.ID == "" {
		enrollment.ID = s.db.nextID("enr")
	}
	s.db.enrollments[enrollment.ID] = models.EnrollmentDetail{Enrollment: *enrollment}
	return nil
}

func (s enrollmentStub) Delete(ctx context.Context, id string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.enrollments[id]; !ok {
		return sql.ErrNoRows
	}
	delete(s.db.enrollments, id)
	for k, ev := range s.db.events {
		if ev.EnrollmentID == id {
			delete(s.db.events, k)
		}
	}
	for k, p := range s.db.payments {
		if p.EnrollmentID == id {
			delete(s.db.payments, k)
		}
	}
	for k, c := range s.db.certs {
		if c.EnrollmentID == id {
			delete(s.db.certs, k)
		}
	}
	return nil
}

func (s enrollmentStub) UpdatePresentDayCount(ctx context.Context, id string, count int) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.presenceWrites++
	if s.db.presenceErr != nil {
		return s.db.presenceErr
	}
	e, ok := s.db.enrollments[id]
	if !ok {
		return sql.ErrNoRows
	}
	e.PresentDayCount = count
	s.db.enrollments[id] = e
	return nil
}

func (s enrollmentStub) UpdatePaymentState(ctx context.Context, id string, payment models.EnrollmentPaymentStatus, registration models.RegistrationStatus, auditLine string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.paymentStateCalls++
	if len(s.db.paymentStateErrs) > 0 {
		err := s.db.paymentStateErrs[0]
		s.db.paymentStateErrs = s.db.paymentStateErrs[1:]
		if err != nil {
			return err
		}
	}
	e, ok := s.db.enrollments[id]
	if !ok {
		return sql.ErrNoRows
	}
	e.PaymentStatus = payment
	e.RegistrationStatus = registration
	if auditLine != "" {
		if e.PaymentDetail != "" {
			e.PaymentDetail += "\n"
		}
		e.PaymentDetail += auditLine
	}
	s.db.enrollments[id] = e
	return nil
}

type attendanceStub struct{ db *memDB }

func (s attendanceStub) Create(ctx context.Context, event *models.AttendanceEvent) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if event.ID == "" {
		event.ID = s.db.nextID("att")
	}
	s.db.events[event.ID] = *event
	return nil
}

func (s attendanceStub) FindByID(ctx context.Context, id string) (*models.AttendanceEvent, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.checkID(id); err != nil {
		return nil, err
	}
	ev, ok := s.db.events[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &ev, nil
}

func (s attendanceStub) ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.AttendanceEvent, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []models.AttendanceEvent
	for _, ev := range s.db.events {
		if ev.EnrollmentID == enrollmentID {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AttendedAt.Equal(out[j].AttendedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].AttendedAt.After(out[j].AttendedAt)
	})
	return out, nil
}

func (s attendanceStub) Update(ctx context.Context, id string, patch models.AttendancePatch) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	ev, ok := s.db.events[id]
	if !ok {
		return sql.ErrNoRows
	}
	if patch.AttendedAt != nil {
		ev.AttendedAt = *patch.AttendedAt
	}
	if patch.Status != nil {
		ev.Status = *patch.Status
	}
	if patch.Mode != nil {
		ev.Mode = *patch.Mode
	}
	s.db.events[id] = ev
	return nil
}

func (s attendanceStub) Delete(ctx context.Context, id string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.events[id]; !ok {
		return sql.ErrNoRows
	}
	delete(s.db.events, id)
	return nil
}

type paymentStub struct{ db *memDB }

func (s paymentStub) FindByID(ctx context.Context, id string) (*models.Payment, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.checkID(id); err != nil {
		return nil, err
	}
	p, ok := s.db.payments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &p, nil
}

func (s paymentStub) FindByEnrollmentID(ctx context.Context, enrollmentID string) (*models.Payment, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.checkID(enrollmentID); err != nil {
		return nil, err
	}
	for _, p := range s.db.payments {
		if p.EnrollmentID == enrollmentID {
			return &p, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s paymentStub) Create(ctx context.Context, payment *models.Payment) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if payment.ID == "" {
		payment.ID = s.db.nextID("pay")
	}
	s.db.payments[payment.ID] = *payment
	return nil
}

func (s paymentStub) UpdateSubmission(ctx context.Context, payment *models.Payment, from models.PaymentStatus) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	current, ok := s.db.payments[payment.ID]
	if !ok || current.Status != from {
		return sql.ErrNoRows
	}
	s.db.payments[payment.ID] = *payment
	return nil
}

func (s paymentStub) UpdateStatus(ctx context.Context, id string, from, to models.PaymentStatus, verifiedAt *time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	current, ok := s.db.payments[id]
	if !ok || current.Status != from {
		return sql.ErrNoRows
	}
	current.Status = to
	current.VerifiedAt = verifiedAt
	s.db.payments[id] = current
	return nil
}

type certificateStub struct{ db *memDB }

func (s certificateStub) FindByID(ctx context.Context, id string) (*models.Certificate, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	c, ok := s.db.certs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &c, nil
}

func (s certificateStub) FindByEnrollmentID(ctx context.Context, enrollmentID string) (*models.Certificate, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, c := range s.db.certs {
		if c.EnrollmentID == enrollmentID {
			return &c, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s certificateStub) Upsert(ctx context.Context, cert *models.Certificate) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, c := range s.db.certs {
		if c.CertificateNumber == cert.CertificateNumber && c.EnrollmentID != cert.EnrollmentID {
			return false, &pq.Error{Code: "23505", Constraint: repository.CertificateNumberConstraint}
		}
	}
	for id, c := range s.db.certs {
		if c.EnrollmentID != cert.EnrollmentID {
			continue
		}
		c.CertificateNumber = cert.CertificateNumber
		c.IssueDate = cert.IssueDate
		if cert.ArtifactReference != nil {
			c.ArtifactReference = cert.ArtifactReference
		}
		if cert.ExternalLinkReference != nil {
			c.ExternalLinkReference = cert.ExternalLinkReference
		}
		s.db.certs[id] = c
		*cert = c
		return false, nil
	}
	if cert.ID == "" {
		cert.ID = s.db.nextID("cert")
	}
	s.db.certs[cert.ID] = *cert
	return true, nil
}

func (s certificateStub) UpdateArtifact(ctx context.Context, id, artifactRef string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	c, ok := s.db.certs[id]
	if !ok {
		return sql.ErrNoRows
	}
	c.ArtifactReference = &artifactRef
	s.db.certs[id] = c
	return nil
}

func (db *memDB) certificateCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.certs)
}

type auditRecorder struct {
	mu   sync.Mutex
	logs []*models.AuditLog
}

func (a *auditRecorder) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *auditRecorder) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.logs))
	for _, l := range a.logs {
		out = append(out, l.Action)
	}
	return out
}

type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func (m *memObjects) Put(ctx context.Context, key string, r io.Reader) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[key] = buf.Bytes()
	return key, nil
}

type dispatcherStub struct {
	mu   sync.Mutex
	sent []notify.Notification
	err  error
}

func (d *dispatcherStub) Dispatch(ctx context.Context, n notify.Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, n)
	return nil
}

type rendererStub struct {
	docs []export.CertificateDocument
	err  error
}

func (r *rendererStub) RenderCertificate(doc export.CertificateDocument) ([]byte, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.docs = append(r.docs, doc)
	return []byte("%PDF-1.3 stub"), nil
}

type memCacheRepo struct {
	mu      sync.Mutex
	entries map[string][]byte
	deleted []string
}

func newMemCacheRepo() *memCacheRepo {
	return &memCacheRepo{entries: map[string][]byte{}}
}

func (c *memCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *memCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = raw
	return nil
}

func (c *memCacheRepo) Delete(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
		c.deleted = append(c.deleted, k)
	}
	return nil
}

func (c *memCacheRepo) DeleteByPattern(ctx context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
			c.deleted = append(c.deleted, k)
		}
	}
	return nil
}

func (c *memCacheRepo) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

var errStoreDown = errors.New("connection reset by peer")

var adminActor = &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin, Email: "admin@example.com"}
