package credstore

// Durable storage keys. The set is fixed — every credential and identity field
// the portal persists lives under one of these.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyUserEmail    = "user_email"
	KeyUserName     = "user_name"
	KeyUserPicture  = "user_picture"
	KeyUserRole     = "user_role"
	KeyCurrentUser  = "current_user"
	KeyClientID     = "client_id"
	KeyClientSecret = "client_secret"
	KeyDriveURL     = "drive_url"
	KeyReturnPath   = "return_path"
)

// SensitiveKeys is the sweep set for ClearAll. Order matters for nothing;
// completeness matters for everything — a key missing here survives logout.
var SensitiveKeys = []string{
	KeyAccessToken,
	KeyRefreshToken,
	KeyUserEmail,
	KeyUserName,
	KeyUserPicture,
	KeyUserRole,
	KeyCurrentUser,
	KeyClientID,
	KeyClientSecret,
	KeyDriveURL,
	KeyReturnPath,
}
