package firmware

type Status string
type DiagnosticsStatus string

const (
	StatusDownloaded         Status = "Downloaded"
	StatusDownloadFailed     Status = "DownloadFailed"
	StatusDownloading        Status = "Downloading"
	StatusIdle               Status = "Idle"
	StatusInstallationFailed Status = "InstallationFailed"
	StatusInstalling         Status = "Installing"
	StatusInstalled          Status = "Installed"

	DiagnosticsStatusIdle         DiagnosticsStatus = "Idle"
	DiagnosticsStatusUploaded     DiagnosticsStatus = "Uploaded"
	DiagnosticsStatusUploadFailed DiagnosticsStatus = "UploadFailed"
	DiagnosticsStatusUploading    DiagnosticsStatus = "Uploading"
)
