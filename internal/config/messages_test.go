package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMessageTemplatesRender(t *testing.T) {
	templates := DefaultMessageTemplates()

	assert.Equal(t, "Good news! Order #42 has shipped.", templates.Render("42", "shipped"))
	assert.Equal(t, "Your order #42 is now pending.", templates.Render("42", "pending"))
}

func TestMessageTemplateHolderReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "messages.yml")
	content := []byte("messages:\n  default: \"Order {order_id}: {status}\"\n  status:\n    paid: \"Paid {order_id}\"\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	holder, err := NewMessageTemplateHolder(Config{Messages: MessagesConfig{Path: path}}, zap.NewNop())
	require.NoError(t, err)

	got := holder.Get()
	assert.Equal(t, "Paid 7", got.Render("7", "paid"))
	assert.Equal(t, "Order 7: shipped", got.Render("7", "shipped"))
}

func TestMessageTemplateHolderFallsBackToDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	holder, err := NewMessageTemplateHolder(Config{}, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, DefaultMessageTemplates().Render("1", "delivered"), holder.Get().Render("1", "delivered"))
}
