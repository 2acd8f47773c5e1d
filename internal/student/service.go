package student

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/academy-api/internal/common"
	"github.com/noah-isme/academy-api/internal/obs"
	"github.com/noah-isme/academy-api/internal/payment"
	"github.com/noah-isme/academy-api/internal/store"
)

const dateLayout = "2006-01-02"

// ErrAlreadyRegistered is returned when a payment has already produced a student record.
var ErrAlreadyRegistered = errors.New("student: payment already registered")

// Store is the persistence surface the service needs. *store.Queries implements it.
type Store interface {
	CreateStudent(ctx context.Context, arg store.CreateStudentParams) (store.Student, error)
	GetStudent(ctx context.Context, sno int64) (store.Student, error)
	ListStudents(ctx context.Context, arg store.ListStudentsParams) ([]store.Student, error)
	CountStudents(ctx context.Context, search string) (int64, error)
	UpdateStudent(ctx context.Context, arg store.UpdateStudentParams) (store.Student, error)
	DeleteStudent(ctx context.Context, sno int64) error
}

// Confirmer settles a checkout confirmation. *payment.Service implements it.
type Confirmer interface {
	Confirm(ctx context.Context, c payment.Confirmation) (payment.Receipt, error)
}

// Student is the API view of a registered student.
type Student struct {
	SNo         int64     `json:"sno"`
	Name        string    `json:"name"`
	FatherName  string    `json:"father_name"`
	DOB         string    `json:"dob"`
	Class       string    `json:"class"`
	AcademyJoin string    `json:"academy_join"`
	Contact     string    `json:"contact"`
	PaymentID   string    `json:"payment_id"`
	OrderID     string    `json:"order_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Details are the editable student fields.
type Details struct {
	Name        string `json:"name" validate:"required,max=120"`
	FatherName  string `json:"father_name" validate:"required,max=120"`
	DOB         string `json:"dob" validate:"required,datetime=2006-01-02"`
	Class       string `json:"class" validate:"required,max=32"`
	AcademyJoin string `json:"academy_join" validate:"required,datetime=2006-01-02"`
	Contact     string `json:"contact" validate:"required,numeric,len=10"`
}

// RegistrationInput is a registration form plus the checkout confirmation that paid for it.
type RegistrationInput struct {
	Details
	OrderID   string `json:"razorpay_order_id"`
	PaymentID string `json:"razorpay_payment_id"`
	Signature string `json:"razorpay_signature"`
}

// Registration is the result of a successful registration.
type Registration struct {
	Student Student         `json:"student"`
	Payment payment.Receipt `json:"payment"`
}

// ListResult is one page of students.
type ListResult struct {
	Items      []Student         `json:"items"`
	Pagination common.Pagination `json:"pagination"`
}

// Config wires the service dependencies.
type Config struct {
	Store    Store
	Payments Confirmer
	Validate *validator.Validate
	Logger   zerolog.Logger
}

// Service manages student registrations and the admin roster.
type Service struct {
	store    Store
	payments Confirmer
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewService builds a Service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("student: store is required")
	}
	if cfg.Payments == nil {
		return nil, errors.New("student: payment confirmer is required")
	}
	validate := cfg.Validate
	if validate == nil {
		validate = validator.New(validator.WithRequiredStructEnabled())
	}
	return &Service{store: cfg.Store, payments: cfg.Payments, validate: validate, logger: cfg.Logger}, nil
}

// Register validates the form, settles the payment and only then writes the student.
func (s *Service) Register(ctx context.Context, in RegistrationInput) (reg Registration, err error) {
	defer func() {
		obs.IncCounter(obs.RegistrationTotal, registrationResult(err))
	}()

	in.Details = normalize(in.Details)
	if err := s.validateDetails(in.Details); err != nil {
		return Registration{}, err
	}
	dob, joined, err := parseDates(in.Details)
	if err != nil {
		return Registration{}, err
	}

	receipt, err := s.payments.Confirm(ctx, payment.Confirmation{
		OrderID:   in.OrderID,
		PaymentID: in.PaymentID,
		Signature: in.Signature,
	})
	if err != nil {
		return Registration{}, err
	}

	row, err := s.store.CreateStudent(ctx, store.CreateStudentParams{
		Name:        in.Name,
		FatherName:  in.FatherName,
		DOB:         dob,
		Class:       in.Class,
		AcademyJoin: joined,
		Contact:     in.Contact,
		PaymentID:   receipt.PaymentID,
		OrderID:     receipt.OrderID,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return Registration{}, ErrAlreadyRegistered
		}
		return Registration{}, fmt.Errorf("create student: %w", err)
	}
	s.logger.Info().Int64("sno", row.SNo).Str("order_id", receipt.OrderID).Str("payment_id", receipt.PaymentID).Msg("student_registered")
	return Registration{Student: toStudent(row), Payment: receipt}, nil
}

// List returns one page of students matching search.
func (s *Service) List(ctx context.Context, page, perPage int, search string) (ListResult, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	search = strings.TrimSpace(search)
	rows, err := s.store.ListStudents(ctx, store.ListStudentsParams{
		Search: search,
		Limit:  int32(perPage),
		Offset: int32((page - 1) * perPage),
	})
	if err != nil {
		return ListResult{}, fmt.Errorf("list students: %w", err)
	}
	total, err := s.store.CountStudents(ctx, search)
	if err != nil {
		return ListResult{}, fmt.Errorf("count students: %w", err)
	}
	items := make([]Student, 0, len(rows))
	for _, row := range rows {
		items = append(items, toStudent(row))
	}
	return ListResult{Items: items, Pagination: common.NewPagination(page, perPage, total)}, nil
}

// Get loads one student.
func (s *Service) Get(ctx context.Context, sno int64) (Student, error) {
	row, err := s.store.GetStudent(ctx, sno)
	if err != nil {
		return Student{}, notFound(err)
	}
	return toStudent(row), nil
}

// Update rewrites the editable fields of a student. The payment binding never changes.
func (s *Service) Update(ctx context.Context, sno int64, in Details) (st Student, err error) {
	defer func() { obs.IncCounter(obs.AdminActionTotal, "update", adminResult(err)) }()

	in = normalize(in)
	if err := s.validateDetails(in); err != nil {
		return Student{}, err
	}
	dob, joined, err := parseDates(in)
	if err != nil {
		return Student{}, err
	}
	row, err := s.store.UpdateStudent(ctx, store.UpdateStudentParams{
		SNo:         sno,
		Name:        in.Name,
		FatherName:  in.FatherName,
		DOB:         dob,
		Class:       in.Class,
		AcademyJoin: joined,
		Contact:     in.Contact,
	})
	if err != nil {
		return Student{}, notFound(err)
	}
	return toStudent(row), nil
}

// Delete removes a student.
func (s *Service) Delete(ctx context.Context, sno int64) (err error) {
	defer func() { obs.IncCounter(obs.AdminActionTotal, "delete", adminResult(err)) }()
	if err := s.store.DeleteStudent(ctx, sno); err != nil {
		return notFound(err)
	}
	return nil
}

func (s *Service) validateDetails(d Details) error {
	if err := s.validate.Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[jsonName(fe.Field())] = fe.Tag()
			}
			return common.NewAppError("VALIDATION_ERROR", "invalid registration details", http.StatusBadRequest, err).WithDetails(fields)
		}
		return common.NewAppError("VALIDATION_ERROR", "invalid registration details", http.StatusBadRequest, err)
	}
	return nil
}

func normalize(d Details) Details {
	d.Name = strings.TrimSpace(d.Name)
	d.FatherName = strings.TrimSpace(d.FatherName)
	d.DOB = strings.TrimSpace(d.DOB)
	d.Class = strings.TrimSpace(d.Class)
	d.AcademyJoin = strings.TrimSpace(d.AcademyJoin)
	d.Contact = strings.TrimSpace(d.Contact)
	return d
}

func parseDates(d Details) (time.Time, time.Time, error) {
	dob, err := time.Parse(dateLayout, d.DOB)
	if err != nil {
		return time.Time{}, time.Time{}, common.NewAppError("VALIDATION_ERROR", "invalid date of birth", http.StatusBadRequest, err)
	}
	joined, err := time.Parse(dateLayout, d.AcademyJoin)
	if err != nil {
		return time.Time{}, time.Time{}, common.NewAppError("VALIDATION_ERROR", "invalid academy join date", http.StatusBadRequest, err)
	}
	if !dob.Before(joined) {
		appErr := common.NewAppError("VALIDATION_ERROR", "date of birth must precede academy join date", http.StatusBadRequest, nil)
		appErr.Details = map[string]string{"dob": "ltfield"}
		return time.Time{}, time.Time{}, appErr
	}
	return dob, joined, nil
}

func notFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return common.NewAppError("STUDENT_NOT_FOUND", "student not found", http.StatusNotFound, err)
	}
	return err
}

var fieldNames = map[string]string{
	"Name":        "name",
	"FatherName":  "father_name",
	"DOB":         "dob",
	"Class":       "class",
	"AcademyJoin": "academy_join",
	"Contact":     "contact",
}

func jsonName(field string) string {
	if name, ok := fieldNames[field]; ok {
		return name
	}
	return strings.ToLower(field)
}

func toStudent(row store.Student) Student {
	return Student{
		SNo:         row.SNo,
		Name:        row.Name,
		FatherName:  row.FatherName,
		DOB:         row.DOB.Format(dateLayout),
		Class:       row.Class,
		AcademyJoin: row.AcademyJoin.Format(dateLayout),
		Contact:     row.Contact,
		PaymentID:   row.PaymentID,
		OrderID:     row.OrderID,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
}

func registrationResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrAlreadyRegistered):
		return "duplicate"
	case common.IsAppError(err):
		return "invalid"
	case errors.Is(err, payment.ErrMissingField), errors.Is(err, payment.ErrSignatureMismatch),
		errors.Is(err, payment.ErrAmountMismatch), errors.Is(err, payment.ErrPaymentMismatch),
		errors.Is(err, payment.ErrReplay), errors.Is(err, payment.ErrOrderNotFound):
		return "payment_rejected"
	default:
		return "error"
	}
}

func adminResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case common.IsAppError(err):
		return "rejected"
	default:
		return "error"
	}
}
