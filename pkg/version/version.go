package version

// Version is the release of the matcher, reported in the user agent and the API.
const Version = "v0.9.2"
