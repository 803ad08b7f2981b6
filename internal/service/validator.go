package service

import (
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/college-timetable-api/internal/models"
)

// NewValidator returns a validator with the timetable tags registered:
// "clock" for HH:MM values and "weekday" for Monday..Saturday names.
func NewValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		return models.IsClock(fl.Field().String())
	})
	_ = v.RegisterValidation("weekday", func(fl validator.FieldLevel) bool {
		_, err := models.ParseWeekday(fl.Field().String())
		return err == nil
	})
	return v
}

// NewSlotCatalogFromConfig builds the grid from configured day names and
// "HH:MM-HH:MM" ranges, falling back to the default grid when both are empty.
func NewSlotCatalogFromConfig(days, slots []string, roomPrefix string, roomBase int) (models.SlotCatalog, error) {
	if len(days) == 0 && len(slots) == 0 && roomPrefix == "" {
		return models.DefaultSlotCatalog(), nil
	}
	defaults := models.DefaultSlotCatalog()

	weekdays := defaults.GenerationDays()
	if len(days) > 0 {
		weekdays = make([]models.Weekday, 0, len(days))
		for _, raw := range days {
			day, err := models.ParseWeekday(raw)
			if err != nil {
				return models.SlotCatalog{}, err
			}
			weekdays = append(weekdays, day)
		}
	}

	ranges := defaults.Slots()
	if len(slots) > 0 {
		ranges = make([]models.TimeRange, 0, len(slots))
		for _, raw := range slots {
			r, err := models.ParseTimeRange(raw)
			if err != nil {
				return models.SlotCatalog{}, err
			}
			ranges = append(ranges, r)
		}
	}
	return models.NewSlotCatalog(weekdays, ranges, roomPrefix, roomBase)
}
