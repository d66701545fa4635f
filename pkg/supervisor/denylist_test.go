package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDenyListBlocksDestructiveCommands(t *testing.T) {
	blocked := []string{
		"rm -rf /",
		"rm -rf ~",
		"rm -fr / --no-preserve-root",
		"sudo apt install anything",
		"doas reboot",
		"mkfs.ext4 /dev/sda1",
		"dd if=/dev/zero of=/dev/sda",
		"echo oops > /dev/sda",
		"shutdown -h now",
		"reboot",
		"chmod -R 777 /",
		"kill -9 -1",
		":(){ :|:& };:",
	}
	for _, cmd := range blocked {
		_, hit := CheckCommand(cmd)
		assert.True(t, hit, "expected deny: %q", cmd)
	}
}

func TestDenyListAllowsOrdinaryCommands(t *testing.T) {
	allowed := []string{
		"go test ./...",
		"rm -rf ./build",
		"rm tmpfile.txt",
		"git status",
		"make deploy",
		"echo done > result.txt",
		"kill -9 12345",
		"grep -r sudo docs/", // Mentions sudo without invoking it
	}
	for _, cmd := range allowed {
		pattern, hit := CheckCommand(cmd)
		assert.False(t, hit, "unexpected deny of %q by %q", cmd, pattern)
	}
}
