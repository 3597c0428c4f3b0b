// Package autoload registers every built-in configurable plugin.
package autoload

import (
	_ "merilcat/pkg/plugins/aichat"
	_ "merilcat/pkg/plugins/relay"
	_ "merilcat/pkg/plugins/script"
)
