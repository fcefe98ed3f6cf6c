package deps

import "ytdl-stream/internal/config"

// Requirements lists the binaries the configured server needs.
func Requirements(cfg *config.Config) []Requirement {
	reqs := []Requirement{
		{
			Name:        "FFmpeg",
			Command:     cfg.Tools.FFmpeg,
			Description: "Transcodes audio downloads to MP3",
			Optional:    true,
		},
	}
	reqs = append(reqs, Requirement{
		Name:        "yt-dlp",
		Command:     cfg.Tools.YTDLP,
		Description: "Resolves and downloads media when provider is ytdlp",
		Optional:    cfg.Provider.Name != config.ProviderYTDLP,
	})
	return reqs
}
