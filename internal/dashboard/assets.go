package dashboard

import "embed"

// staticAssets embeds the minimal single-page dashboard UI served at "/".
//
//go:embed assets/index.html
var staticAssets embed.FS
