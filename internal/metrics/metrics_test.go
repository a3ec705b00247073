package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordRegistration(t *testing.T) {
	before := testutil.ToFloat64(registrations.WithLabelValues(OutcomeWaitlisted))
	RecordRegistration(OutcomeWaitlisted)
	assert.Equal(t, before+1, testutil.ToFloat64(registrations.WithLabelValues(OutcomeWaitlisted)))
}

func TestRecordNotification_Status(t *testing.T) {
	okBefore := testutil.ToFloat64(notifications.WithLabelValues("promotion", "ok"))
	errBefore := testutil.ToFloat64(notifications.WithLabelValues("promotion", "error"))

	RecordNotification("promotion", nil)
	RecordNotification("promotion", errors.New("down"))

	assert.Equal(t, okBefore+1, testutil.ToFloat64(notifications.WithLabelValues("promotion", "ok")))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(notifications.WithLabelValues("promotion", "error")))
}

func TestRecordPromotion(t *testing.T) {
	before := testutil.ToFloat64(promotions)
	RecordPromotion(3)
	assert.Equal(t, before+3, testutil.ToFloat64(promotions))
}
