package transport

// voiceCatalog is the set of prebuilt voices the remote endpoint offers.
var voiceCatalog = []VoiceProfile{
	{VoiceID: "aoede", DisplayName: "Aoede (warm)", AvatarURL: "/avatars/aoede.png"},
	{VoiceID: "kore", DisplayName: "Kore (bright)", AvatarURL: "/avatars/kore.png"},
	{VoiceID: "leda", DisplayName: "Leda (clear)", AvatarURL: "/avatars/leda.png"},
	{VoiceID: "zephyr", DisplayName: "Zephyr (light)", AvatarURL: "/avatars/zephyr.png"},
	{VoiceID: "puck", DisplayName: "Puck (playful)", AvatarURL: "/avatars/puck.png"},
	{VoiceID: "charon", DisplayName: "Charon (deep)", AvatarURL: "/avatars/charon.png"},
	{VoiceID: "fenrir", DisplayName: "Fenrir (steady)", AvatarURL: "/avatars/fenrir.png"},
	{VoiceID: "orus", DisplayName: "Orus (calm)", AvatarURL: "/avatars/orus.png"},
}

// Voices returns the selectable voice profiles.
func Voices() []VoiceProfile {
	out := make([]VoiceProfile, len(voiceCatalog))
	copy(out, voiceCatalog)
	return out
}

// VoiceByID looks up a profile by its identifier.
func VoiceByID(id string) (VoiceProfile, bool) {
	for _, v := range voiceCatalog {
		if v.VoiceID == id {
			return v, true
		}
	}
	return VoiceProfile{}, false
}
