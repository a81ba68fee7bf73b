// Package contract renders the rental agreement of a paid booking as a PDF
// and stores it next to the condition photos.
package contract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jung-kurt/gofpdf"

	"carrental-backend/internal/domain"
	"carrental-backend/internal/logger"
	"carrental-backend/internal/service"
	"carrental-backend/internal/storage"
)

type BookingReader interface {
	GetByID(ctx context.Context, id int64) (*domain.Booking, error)
}

type VehicleReader interface {
	GetByID(ctx context.Context, id int64) (*domain.Vehicle, error)
}

type CustomerReader interface {
	GetByID(ctx context.Context, id int64) (*domain.Customer, error)
}

type ObjectStore interface {
	FileExists(ctx context.Context, key string) (bool, int64, error)
	SaveFile(ctx context.Context, key string, r io.Reader) error
}

const terms = "Returns later than the grace period are charged per started hour at the overtime rate. " +
	"Damage found at return is charged against the deposit; any amount above the deposit is due " +
	"before the settlement closes. The remaining deposit is refunded to the original payment method."

type agreementData struct {
	Booking  *domain.Booking
	Vehicle  *domain.Vehicle
	Customer *domain.Customer
	Payment  service.PaymentSnapshot
	Issued   time.Time
}

// Generator implements service.ContractGenerator.
type Generator struct {
	bookings  BookingReader
	vehicles  VehicleReader
	customers CustomerReader
	store     ObjectStore
	now       func() time.Time
	compress  bool
}

func NewGenerator(bookings BookingReader, vehicles VehicleReader, customers CustomerReader, store ObjectStore) *Generator {
	return &Generator{
		bookings:  bookings,
		vehicles:  vehicles,
		customers: customers,
		store:     store,
		now:       time.Now,
		compress:  true,
	}
}

// GenerateAndStore renders the agreement and returns its storage key. An
// agreement that already exists is kept, so webhook replays are harmless.
func (g *Generator) GenerateAndStore(ctx context.Context, bookingID, customerID, vehicleID int64, snapshot service.PaymentSnapshot) (string, error) {
	logger.EnterMethod("contract.GenerateAndStore", "bookingID", bookingID)

	key := storage.ContractKey(bookingID)
	exists, _, err := g.store.FileExists(ctx, key)
	if err != nil {
		return "", fmt.Errorf("check contract: %w", err)
	}
	if exists {
		logger.ExitMethod("contract.GenerateAndStore", "bookingID", bookingID, "key", key, "existing", true)
		return key, nil
	}

	b, err := g.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return "", err
	}
	if b.CustomerID != customerID || b.VehicleID != vehicleID {
		return "", fmt.Errorf("%w: booking %d does not belong to customer %d and vehicle %d",
			domain.ErrValidation, bookingID, customerID, vehicleID)
	}
	v, err := g.vehicles.GetByID(ctx, vehicleID)
	if err != nil {
		return "", err
	}
	c, err := g.customers.GetByID(ctx, customerID)
	if err != nil {
		return "", err
	}

	doc, err := g.render(agreementData{Booking: b, Vehicle: v, Customer: c, Payment: snapshot, Issued: g.now().UTC()})
	if err != nil {
		return "", fmt.Errorf("render contract: %w", err)
	}

	if err := g.store.SaveFile(ctx, key, bytes.NewReader(doc)); err != nil {
		logger.ExitMethodWithError("contract.GenerateAndStore", err, "bookingID", bookingID)
		return "", fmt.Errorf("store contract: %w", err)
	}

	logger.ExitMethod("contract.GenerateAndStore", "bookingID", bookingID, "key", key)
	return key, nil
}

// render lays the agreement out on a single A4 page.
func (g *Generator) render(d agreementData) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(g.compress)
	pdf.SetCreationDate(d.Issued)
	pdf.SetTitle(fmt.Sprintf("Rental agreement RA-%d", d.Booking.ID), true)
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Helvetica", "B", 20)
	pdf.CellFormat(0, 12, "VEHICLE RENTAL AGREEMENT", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(0, 7, fmt.Sprintf("Contract no.: RA-%d", d.Booking.ID), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 7, "Issued: "+d.Issued.Format(time.RFC3339), "", 1, "L", false, 0, "")
	pdf.Ln(4)
	pdf.SetDrawColor(220, 220, 220)
	pdf.Line(15, pdf.GetY(), 195, pdf.GetY())
	pdf.Ln(6)

	drawSection(pdf, "PARTIES")
	line(pdf, tr(fmt.Sprintf("Customer: %s <%s> (id %d)", d.Customer.Name, d.Customer.Email, d.Customer.ID)))
	line(pdf, tr(fmt.Sprintf("Vehicle: %s, plate %s (id %d)", d.Vehicle.Name, d.Vehicle.PlateNumber, d.Vehicle.ID)))
	pdf.Ln(4)

	drawSection(pdf, "RENTAL PERIOD")
	line(pdf, "From: "+d.Booking.ScheduledStart.UTC().Format(time.RFC3339))
	line(pdf, "To: "+d.Booking.ScheduledEnd.UTC().Format(time.RFC3339))
	pdf.Ln(4)

	drawSection(pdf, fmt.Sprintf("CHARGES (%s)", d.Payment.Currency))
	line(pdf, fmt.Sprintf("Hourly rate: %d", d.Booking.HourlyRate))
	line(pdf, fmt.Sprintf("Rental cost: %d", d.Booking.RentalCost))
	line(pdf, fmt.Sprintf("Deposit: %d", d.Booking.DepositAmount))
	line(pdf, fmt.Sprintf("Service fee: %d", d.Booking.ServiceFee))
	pdf.SetFont("Helvetica", "B", 11)
	line(pdf, fmt.Sprintf("Total paid: %d", d.Payment.Amount))
	pdf.SetFont("Helvetica", "", 11)
	pdf.Ln(4)

	drawSection(pdf, "PAYMENT")
	line(pdf, fmt.Sprintf("Method: %s", d.Payment.Method))
	line(pdf, tr("Transaction id: "+d.Payment.TransactionID))
	line(pdf, "Paid at: "+d.Payment.PaidAt.UTC().Format(time.RFC3339))
	pdf.Ln(4)

	drawSection(pdf, "TERMS")
	pdf.MultiCell(0, 6, terms, "", "L", false)

	pdf.SetDrawColor(200, 200, 200)
	pdf.Line(15, 285, 195, 285)
	pdf.SetY(288)
	pdf.SetFont("Helvetica", "I", 9)
	pdf.CellFormat(0, 6, fmt.Sprintf("Booking %d - generated on payment confirmation", d.Booking.ID), "", 0, "C", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func drawSection(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 13)
	pdf.SetFillColor(240, 240, 240)
	pdf.CellFormat(0, 8, title, "", 1, "L", true, 0, "")
	pdf.Ln(2)
	pdf.SetFont("Helvetica", "", 11)
}

func line(pdf *gofpdf.Fpdf, text string) {
	pdf.CellFormat(0, 7, text, "", 1, "L", false, 0, "")
}
