package utils

import "fmt"

// DefaultLocale is the locale every message exists in.
const DefaultLocale = "es"

// SupportedLocales lists the locales with a message table.
var SupportedLocales = []string{"es", "en"}

var translations = map[string]map[string]string{
	"es": {
		"health.ok": "ok",
		"busy":      "Espera a que termine la operación en curso",

		"login.welcome":             "¡Bienvenido!",
		"login.invalid_credentials": "Correo electrónico o contraseña incorrectos",
		"login.failed":              "Error al iniciar sesión",
		"login.unexpected":          "Error inesperado al iniciar sesión",
		"profile.load_failed":       "Error al cargar el perfil",
		"profile.create_failed":     "Error al crear el perfil",

		"register.password_mismatch": "Las contraseñas no coinciden",
		"register.duplicate":         "Este correo electrónico ya está registrado",
		"register.weak_password":     "La contraseña debe tener al menos %d caracteres",
		"register.failed":            "Error al registrarse",
		"register.success":           "Registro exitoso. Ya puedes iniciar sesión.",

		"reset.email_required": "Introduce tu correo electrónico",
		"reset.failed":         "Error al enviar el correo de recuperación",
		"reset.sent":           "Se ha enviado un correo de recuperación a tu dirección de email",

		"admin.missing_fields":            "Correo o contraseña no proporcionados",
		"admin.created":                   "Administrador creado exitosamente",
		"admin.promoted":                  "Usuario actualizado a administrador",
		"admin.registered_wrong_password": "El correo electrónico ya está registrado pero la contraseña es incorrecta",
		"admin.profile_update_failed":     "Error al actualizar el perfil a administrador",
		"admin.failed":                    "Error al crear administrador",
		"admin.required":                  "Solo los administradores pueden acceder a este panel",

		"logout.done": "Sesión cerrada",

		"questions.missing_tables":  "Error: Las tablas de la base de datos no existen. Por favor, ejecuta las migraciones.",
		"questions.load_failed":     "Error al cargar las preguntas",
		"question.created":          "Pregunta creada exitosamente",
		"question.create_failed":    "Error al crear la pregunta",
		"question.text_required":    "El texto de la pregunta es obligatorio",
		"question.options_required": "Las preguntas de selección necesitan al menos una opción",
		"question.deleted":          "Pregunta eliminada",
		"question.delete_failed":    "Error al eliminar la pregunta",

		"answers.empty":       "No hay respuestas para guardar",
		"answers.saved":       "Respuestas guardadas exitosamente",
		"answers.save_failed": "Error al guardar las respuestas",

		"submissions.load_failed": "Error al cargar las respuestas",
		"permission.denied":       "No tienes permiso para realizar esta acción",
		"unexpected":              "Error inesperado",

		"ui.title":           "Sondeo",
		"ui.login":           "Iniciar sesión",
		"ui.register":        "Crear cuenta",
		"ui.reset":           "Recuperar contraseña",
		"ui.questions":       "Preguntas",
		"ui.admin":           "Panel de administración",
		"ui.email":           "Correo electrónico",
		"ui.password":        "Contraseña",
		"ui.confirm":         "Confirmar contraseña",
		"ui.answer":          "Respuesta",
		"ui.question_text":   "Texto de la pregunta",
		"ui.options":         "Opciones (separadas por comas)",
		"ui.type":            "Tipo",
		"ui.new_question":    "Nueva pregunta",
		"ui.new_admin":       "Nuevo administrador",
		"ui.submissions":     "Respuestas recibidas",
		"ui.no_questions":    "No hay preguntas todavía",
		"ui.no_submissions":  "No hay respuestas todavía",
		"ui.deleted":         "(pregunta eliminada)",
		"ui.pending":         "%d respuestas sin guardar",
		"ui.signed_in_as":    "Sesión: %s (%s)",
		"ui.reset_sent_hint": "Revisa tu correo y sigue el enlace",
		"ui.help.login":      "tab campo • enter entrar • ctrl+n registrarse • ctrl+r recuperar • ctrl+a crear admin • esc salir",
		"ui.help.register":   "tab campo • enter registrarse • esc volver",
		"ui.help.reset":      "enter enviar • esc volver",
		"ui.help.questions":  "↑/↓ pregunta • ←/→ opción • ctrl+s guardar • ctrl+r recargar • ctrl+a admin • ctrl+d borrar • ctrl+o salir",
		"ui.help.admin":      "tab campo • enter enviar • ctrl+t tipo • ctrl+r recargar • pgup/pgdn desplazar • esc volver • ctrl+o salir",
	},
	"en": {
		"health.ok": "ok",
		"busy":      "Wait for the current operation to finish",

		"login.welcome":             "Welcome!",
		"login.invalid_credentials": "Incorrect email or password",
		"login.failed":              "Sign-in failed",
		"login.unexpected":          "Unexpected error while signing in",
		"profile.load_failed":       "Could not load the profile",
		"profile.create_failed":     "Could not create the profile",

		"register.password_mismatch": "Passwords do not match",
		"register.duplicate":         "This email address is already registered",
		"register.weak_password":     "The password must be at least %d characters long",
		"register.failed":            "Registration failed",
		"register.success":           "Registration complete. You can sign in now.",

		"reset.email_required": "Enter your email address",
		"reset.failed":         "Could not send the recovery email",
		"reset.sent":           "A recovery email has been sent to your address",

		"admin.missing_fields":            "Email or password missing",
		"admin.created":                   "Administrator created",
		"admin.promoted":                  "User promoted to administrator",
		"admin.registered_wrong_password": "The email is already registered but the password is wrong",
		"admin.profile_update_failed":     "Could not promote the profile to administrator",
		"admin.failed":                    "Could not create the administrator",
		"admin.required":                  "Only administrators can open this panel",

		"logout.done": "Signed out",

		"questions.missing_tables":  "Error: the database tables do not exist. Please run the migrations.",
		"questions.load_failed":     "Could not load the questions",
		"question.created":          "Question created",
		"question.create_failed":    "Could not create the question",
		"question.text_required":    "The question text is required",
		"question.options_required": "Select questions need at least one option",
		"question.deleted":          "Question deleted",
		"question.delete_failed":    "Could not delete the question",

		"answers.empty":       "There are no answers to save",
		"answers.saved":       "Answers saved",
		"answers.save_failed": "Could not save the answers",

		"submissions.load_failed": "Could not load the answers",
		"permission.denied":       "You are not allowed to do this",
		"unexpected":              "Unexpected error",

		"ui.title":           "Sondeo",
		"ui.login":           "Sign in",
		"ui.register":        "Create account",
		"ui.reset":           "Recover password",
		"ui.questions":       "Questions",
		"ui.admin":           "Admin panel",
		"ui.email":           "Email",
		"ui.password":        "Password",
		"ui.confirm":         "Confirm password",
		"ui.answer":          "Answer",
		"ui.question_text":   "Question text",
		"ui.options":         "Options (comma separated)",
		"ui.type":            "Type",
		"ui.new_question":    "New question",
		"ui.new_admin":       "New administrator",
		"ui.submissions":     "Submissions",
		"ui.no_questions":    "No questions yet",
		"ui.no_submissions":  "No submissions yet",
		"ui.deleted":         "(deleted question)",
		"ui.pending":         "%d unsaved answers",
		"ui.signed_in_as":    "Signed in: %s (%s)",
		"ui.reset_sent_hint": "Check your inbox and follow the link",
		"ui.help.login":      "tab field • enter sign in • ctrl+n register • ctrl+r recover • ctrl+a create admin • esc quit",
		"ui.help.register":   "tab field • enter register • esc back",
		"ui.help.reset":      "enter send • esc back",
		"ui.help.questions":  "↑/↓ question • ←/→ option • ctrl+s save • ctrl+r reload • ctrl+a admin • ctrl+d delete • ctrl+o sign out",
		"ui.help.admin":      "tab field • enter submit • ctrl+t type • ctrl+r reload • pgup/pgdn scroll • esc back • ctrl+o sign out",
	},
}

// T returns the translated string for key in locale; falls back to DefaultLocale.
func T(locale, key string) string {
	if m, ok := translations[locale]; ok {
		if v, ok := m[key]; ok {
			return v
		}
	}
	if v, ok := translations[DefaultLocale][key]; ok {
		return v
	}
	return key
}

// Tf formats the translated string for key with args.
func Tf(locale, key string, args ...any) string {
	return fmt.Sprintf(T(locale, key), args...)
}
