package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/illmade-knight/go-querycache/pkg/fingerprint"
	"github.com/illmade-knight/go-querycache/pkg/query"
)

// Resource names as the backend reports them in change events.
const (
	ResourcePatients        = "patients"
	ResourceDoctors         = "doctors"
	ResourceOrders          = "orders"
	ResourceReferralPayouts = "referral_payouts"
	ResourceNotifications   = "notifications"
)

// Operation names used to fingerprint requests. Each starts with its resource
// name, so invalidating a resource is a pattern match on "<resource>.".
const (
	OpListPatients        = ResourcePatients + ".list"
	OpGetPatient          = ResourcePatients + ".get"
	OpListDoctors         = ResourceDoctors + ".list"
	OpListOrders          = ResourceOrders + ".list"
	OpListReferralPayouts = ResourceReferralPayouts + ".list"
	OpListNotifications   = ResourceNotifications + ".list"
)

// InvalidationPattern is the cache key pattern covering every request for resource.
func InvalidationPattern(resource string) string {
	return resource + "."
}

// Patient is a patient record as returned by /patients/.
type Patient struct {
	ID          string `json:"id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	DateOfBirth string `json:"date_of_birth,omitempty"`
	DoctorID    string `json:"doctor_id,omitempty"`
	Status      string `json:"status"`
}

// Doctor is a referring doctor.
type Doctor struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Specialty string `json:"specialty,omitempty"`
	Email     string `json:"email,omitempty"`
}

// Order is a patient order placed through a doctor. Total is in the account currency.
type Order struct {
	ID        string    `json:"id"`
	PatientID string    `json:"patient_id"`
	DoctorID  string    `json:"doctor_id"`
	Status    string    `json:"status"`
	Total     float64   `json:"total"`
	CreatedAt time.Time `json:"created_at"`
}

// ReferralPayout is money owed to a doctor for referrals. PaidAt is nil until paid.
type ReferralPayout struct {
	ID       string     `json:"id"`
	DoctorID string     `json:"doctor_id"`
	Amount   float64    `json:"amount"`
	Status   string     `json:"status"`
	PaidAt   *time.Time `json:"paid_at,omitempty"`
}

// Notification is an in-app message for the signed-in user.
type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// Page is the backend's list envelope.
type Page[T any] struct {
	Count    int     `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  []T     `json:"results"`
}

var (
	_ query.PageOperation[Patient]        = (*Client)(nil).Patients
	_ query.PageOperation[Doctor]         = (*Client)(nil).Doctors
	_ query.PageOperation[Order]          = (*Client)(nil).Orders
	_ query.PageOperation[ReferralPayout] = (*Client)(nil).ReferralPayouts
	_ query.PageOperation[Notification]   = (*Client)(nil).Notifications
	_ query.Operation[Patient]            = (*Client)(nil).Patient
)

// Patients lists one page of patients. params are passed as filters.
func (c *Client) Patients(ctx context.Context, params fingerprint.Params, page, pageSize int) ([]Patient, error) {
	return listPage[Patient](ctx, c, "patients/", params, page, pageSize)
}

// Doctors lists one page of doctors.
func (c *Client) Doctors(ctx context.Context, params fingerprint.Params, page, pageSize int) ([]Doctor, error) {
	return listPage[Doctor](ctx, c, "doctors/", params, page, pageSize)
}

// Orders lists one page of lab orders.
func (c *Client) Orders(ctx context.Context, params fingerprint.Params, page, pageSize int) ([]Order, error) {
	return listPage[Order](ctx, c, "orders/", params, page, pageSize)
}

// ReferralPayouts lists one page of referral payouts.
func (c *Client) ReferralPayouts(ctx context.Context, params fingerprint.Params, page, pageSize int) ([]ReferralPayout, error) {
	return listPage[ReferralPayout](ctx, c, "referral-payouts/", params, page, pageSize)
}

// Notifications lists one page of notifications, newest first.
func (c *Client) Notifications(ctx context.Context, params fingerprint.Params, page, pageSize int) ([]Notification, error) {
	return listPage[Notification](ctx, c, "notifications/", params, page, pageSize)
}

// Patient fetches a single patient. params must carry "id".
func (c *Client) Patient(ctx context.Context, params fingerprint.Params) (Patient, error) {
	var p Patient
	id := fmt.Sprint(params["id"])
	if params["id"] == nil || id == "" {
		return p, fmt.Errorf("patient id is required")
	}
	rest := make(fingerprint.Params, len(params))
	for k, v := range params {
		if k != "id" {
			rest[k] = v
		}
	}
	if err := c.GetJSON(ctx, "patients/"+url.PathEscape(id)+"/", queryValues(rest), &p); err != nil {
		return Patient{}, err
	}
	return p, nil
}

func listPage[T any](ctx context.Context, c *Client, path string, params fingerprint.Params, page, pageSize int) ([]T, error) {
	values := queryValues(params)
	values.Set("page", strconv.Itoa(page))
	values.Set("page_size", strconv.Itoa(pageSize))

	var envelope Page[T]
	if err := c.GetJSON(ctx, path, values, &envelope); err != nil {
		return nil, err
	}
	if envelope.Results == nil {
		return []T{}, nil
	}
	return envelope.Results, nil
}
