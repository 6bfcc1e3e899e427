package custom_errors

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestCode(t *testing.T) {
	assert.Equal(t, 400, Code(NewConfigError("no fact table %s", "ftb_1")))
	assert.Equal(t, 422, Code(errors.Wrap(NewValidationError("column", "bad"), "metric m0")))
	assert.Equal(t, 501, Code(NewNotSupportedError("MySQL", "approximate quantiles")))
	assert.Equal(t, 500, Code(fmt.Errorf("boom")))

	err := errors.Wrap(NewNotSupportedError("MySQL", "approximate quantiles"), "render")
	assert.True(t, IsNotSupported(err))
	assert.Equal(t, "render: MySQL does not support approximate quantiles", err.Error())
}
