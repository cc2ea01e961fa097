package mcpcodec

import (
	"crypto/sha256"
	"encoding/hex"

	"mcphub/internal/domain"
)

// HashTools returns a deterministic hash over qualified names and schemas.
func HashTools(tools []domain.ToolDescriptor) string {
	hasher := sha256.New()
	for _, tool := range tools {
		_, _ = hasher.Write([]byte(tool.QualifiedName))
		_, _ = hasher.Write([]byte{0})
		_, _ = hasher.Write(tool.Schema)
		_, _ = hasher.Write([]byte{0})
	}
	return hex.EncodeToString(hasher.Sum(nil))
}
