package auth

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"deptportal/internal/apperr"
	"deptportal/internal/events"
	"deptportal/internal/metrics"
	"deptportal/internal/session"
	"deptportal/internal/student"
	"deptportal/internal/validate"
)

var (
	// ErrInvalidCredentials covers unknown emails and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrProfileNotFound is returned when an authenticated account has no profile or linked record.
	ErrProfileNotFound = errors.New("user profile not found")
	// ErrPendingApproval blocks students whose record is not approved.
	ErrPendingApproval = errors.New("your registration is awaiting administrator approval")
	// ErrNotEligible is returned when a registrant is not on the verified roster.
	ErrNotEligible = errors.New("student details not found in the verified roster")
)

// Principal is the authenticated identity.
type Principal struct {
	UserID     string `json:"userId"`
	Email      string `json:"email"`
	Role       Role   `json:"role"`
	RollNumber string `json:"rollNumber,omitempty"`
}

// Result is returned by a successful sign-in.
type Result struct {
	Principal Principal       `json:"principal"`
	Role      Role            `json:"role"`
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expiresAt"`
	Student   *student.Record `json:"student,omitempty"`
}

// Registration is the self-service sign-up form.
type Registration struct {
	Email            string `json:"email" validate:"required,email"`
	Password         string `json:"password" validate:"required,min=6"`
	RollNumber       string `json:"rollNumber" validate:"required,max=20"`
	Name             string `json:"name" validate:"required,max=120"`
	Year             string `json:"year" validate:"required,academic_year"`
	Phone            string `json:"phone" validate:"max=20"`
	Section          string `json:"section" validate:"omitempty,oneof=A B C"`
	Semester         string `json:"semester" validate:"omitempty,semester"`
	Address          string `json:"address"`
	ParentName       string `json:"parentName"`
	ParentPhone      string `json:"parentPhone" validate:"max=20"`
	EmergencyContact string `json:"emergencyContact" validate:"max=20"`
	DateOfBirth      string `json:"dateOfBirth"`
	BloodGroup       string `json:"bloodGroup"`
	Category         string `json:"category"`
}

// Config carries token settings.
type Config struct {
	Issuer     string
	SigningKey string
	SessionTTL time.Duration
}

// Service implements sign-in, sign-up and sign-out.
type Service struct {
	dir      Directory
	students student.Repository
	sessions session.Store
	bus      events.Publisher
	cfg      Config
	validate *validator.Validate
	log      *zap.Logger
	now      func() time.Time
}

// NewService wires the auth service. bus may be nil.
func NewService(dir Directory, students student.Repository, sessions session.Store, bus events.Publisher, cfg Config, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 12 * time.Hour
	}
	return &Service{
		dir:      dir,
		students: students,
		sessions: sessions,
		bus:      bus,
		cfg:      cfg,
		validate: validate.New(),
		log:      log.Named("auth"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SignIn authenticates and, for students, requires an approved record before creating a session.
func (s *Service) SignIn(ctx context.Context, email, password string) (Result, error) {
	res, err := s.signIn(ctx, email, password)
	metrics.SignIns.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		s.log.Info("sign-in refused", zap.String("email", student.NormalizeEmail(email)), zap.Error(err))
	}
	return res, err
}

func (s *Service) signIn(ctx context.Context, email, password string) (Result, error) {
	acct, err := s.dir.AccountByEmail(ctx, email)
	if errors.Is(err, ErrAccountNotFound) {
		return Result{}, ErrInvalidCredentials
	}
	if err != nil {
		return Result{}, err
	}
	if !CheckPassword(acct.PasswordHash, password) {
		return Result{}, ErrInvalidCredentials
	}

	prof, err := s.dir.Profile(ctx, acct.ID)
	if err != nil {
		return Result{}, err
	}

	var rec *student.Record
	switch prof.Role {
	case RoleAdmin:
	case RoleStudent:
		r, err := s.students.Get(ctx, prof.RollNumber)
		if errors.Is(err, student.ErrNotFound) {
			return Result{}, ErrProfileNotFound
		}
		if err != nil {
			return Result{}, err
		}
		if r.Status != student.StatusApproved {
			return Result{}, ErrPendingApproval
		}
		rec = &r
	default:
		return Result{}, ErrProfileNotFound
	}

	now := s.now()
	sid := uuid.NewString()
	tok, err := Issue(acct.ID, prof.Role, prof.RollNumber, sid, s.cfg.Issuer, s.cfg.SigningKey, s.cfg.SessionTTL, now)
	if err != nil {
		return Result{}, err
	}
	snap := session.Snapshot{
		SessionID:   sid,
		UserID:      acct.ID,
		Email:       acct.Email,
		UserType:    string(prof.Role),
		CurrentUser: rec,
		CreatedAt:   now,
	}
	if err := s.sessions.Save(ctx, snap, s.cfg.SessionTTL); err != nil {
		return Result{}, err
	}

	return Result{
		Principal: Principal{UserID: acct.ID, Email: acct.Email, Role: prof.Role, RollNumber: prof.RollNumber},
		Role:      prof.Role,
		Token:     tok.AccessToken,
		ExpiresAt: tok.ExpiresAt,
		Student:   rec,
	}, nil
}

// SignUp registers a student on the verified roster. The roster check runs before any write.
func (s *Service) SignUp(ctx context.Context, reg Registration) (Principal, error) {
	p, err := s.signUp(ctx, reg)
	metrics.SignUps.WithLabelValues(outcome(err)).Inc()
	return p, err
}

func (s *Service) signUp(ctx context.Context, reg Registration) (Principal, error) {
	if err := s.validate.Struct(reg); err != nil {
		return Principal{}, apperr.FromValidator("invalid registration", err)
	}
	ok, err := s.dir.Eligible(ctx, RosterEntry{RollNumber: reg.RollNumber, Name: reg.Name, Year: reg.Year})
	if err != nil {
		return Principal{}, err
	}
	if !ok {
		return Principal{}, ErrNotEligible
	}
	if err := student.CheckSemester(reg.Year, reg.Semester); err != nil {
		return Principal{}, err
	}

	hash, err := HashPassword(reg.Password)
	if err != nil {
		return Principal{}, err
	}
	acct := Account{
		ID:           uuid.NewString(),
		Email:        student.NormalizeEmail(reg.Email),
		PasswordHash: hash,
		CreatedAt:    s.now(),
	}
	rec := student.NewStudent{
		RollNumber:       reg.RollNumber,
		Name:             reg.Name,
		Email:            reg.Email,
		Phone:            reg.Phone,
		Year:             reg.Year,
		Section:          reg.Section,
		Semester:         reg.Semester,
		Status:           student.StatusPending,
		Address:          reg.Address,
		ParentName:       reg.ParentName,
		ParentPhone:      reg.ParentPhone,
		EmergencyContact: reg.EmergencyContact,
		DateOfBirth:      reg.DateOfBirth,
		BloodGroup:       reg.BloodGroup,
		Category:         reg.Category,
	}.Record()

	out, err := s.dir.Register(ctx, acct, rec)
	if err != nil {
		return Principal{}, err
	}
	s.log.Info("student registered", zap.String("roll", out.RollNumber), zap.String("user_id", acct.ID))
	if s.bus != nil {
		c := events.Change{Table: student.Table, Op: events.OpInsert, Key: out.RollNumber, At: s.now()}
		if err := s.bus.Publish(ctx, c); err != nil {
			s.log.Warn("publish change failed", zap.Error(err))
		}
	}
	return Principal{UserID: acct.ID, Email: acct.Email, Role: RoleStudent, RollNumber: out.RollNumber}, nil
}

// SignOut revokes the session so its token stops working.
func (s *Service) SignOut(ctx context.Context, sessionID string) error {
	return s.sessions.Clear(ctx, sessionID)
}

// Session returns the live snapshot behind a token's session id.
func (s *Service) Session(ctx context.Context, sessionID string) (session.Snapshot, error) {
	return s.sessions.Load(ctx, sessionID)
}

// BootstrapAdmin creates an admin account unless the email is already registered.
func (s *Service) BootstrapAdmin(ctx context.Context, email, password string) error {
	email = student.NormalizeEmail(email)
	if email == "" || len(password) < MinPasswordLen {
		return apperr.Invalid("admin email and a password of at least 6 characters are required")
	}
	_, err := s.dir.AccountByEmail(ctx, email)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	if err := s.dir.CreateAdmin(ctx, Account{ID: uuid.NewString(), Email: email, PasswordHash: hash, CreatedAt: s.now()}); err != nil {
		return err
	}
	s.log.Info("admin account created", zap.String("email", email))
	return nil
}

// ParseToken validates a bearer token against this service's key and issuer.
func (s *Service) ParseToken(token string) (Claims, error) {
	return Parse(token, s.cfg.SigningKey, s.cfg.Issuer)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrProfileNotFound):
		return "profile_not_found"
	case errors.Is(err, ErrPendingApproval):
		return "pending_approval"
	case errors.Is(err, ErrNotEligible):
		return "not_eligible"
	case errors.Is(err, student.ErrDuplicateKey):
		return "duplicate"
	case apperr.IsValidation(err):
		return "invalid"
	default:
		return "error"
	}
}
