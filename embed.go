package weatherchat

import "embed"

// TemplateFS contains the embedded HTML templates used for rendering the chat page, the weather widget
// and the message partials streamed to the browser.
//
//go:embed templates/*
var TemplateFS embed.FS

// StaticFS contains the embedded static assets (the chat script and the stylesheet).
//
//go:embed static/*
var StaticFS embed.FS
